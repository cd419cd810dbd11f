// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package memory implements an in-process key/value backend.
package memory

import (
	"context"
	"sync"
)

type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func New() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := m.data[namespace][key]; ok {
			values[key] = append([]byte(nil), value...)
		}
	}
	return values, nil
}

func (m *Memory) Set(ctx context.Context, namespace string, values map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.set(namespace, values)
	return nil
}

// Update passes the current values of keys to fn and writes the values it returns while holding the
// write lock.
func (m *Memory) Update(ctx context.Context, namespace string, keys []string,
	fn func(current map[string][]byte) (map[string][]byte, error),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := m.data[namespace][key]; ok {
			current[key] = append([]byte(nil), value...)
		}
	}
	values, err := fn(current)
	if err != nil {
		return err
	}
	m.set(namespace, values)
	return nil
}

func (m *Memory) set(namespace string, values map[string][]byte) {
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte, len(values))
		m.data[namespace] = ns
	}
	for key, value := range values {
		ns[key] = append([]byte(nil), value...)
	}
}

func (m *Memory) Close() error {
	return nil
}
