// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"

	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/store/filekv"
	"github.com/wneessen/waybar-humidity/internal/store/memory"
	"github.com/wneessen/waybar-humidity/internal/store/postgres"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options selects and configures the Backend of a Store.
type Options struct {
	Backend string
	Path    string
	DSN     string
	// DefaultHomeHours replaces the built-in home hours used while none are stored.
	DefaultHomeHours *ventilation.HomeHours
}

// Open returns a Store on the backend selected by opts.
func Open(ctx context.Context, opts Options, log *logger.Logger) (*Store, error) {
	var backend Backend
	switch opts.Backend {
	case BackendFile, "":
		fileBackend, err := filekv.New(opts.Path, filekv.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		backend = fileBackend
	case BackendPostgres:
		pgBackend, err := postgres.Open(ctx, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		backend = pgBackend
	case BackendMemory:
		backend = memory.New()
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", opts.Backend)
	}
	log.Debug("store opened", "backend", opts.Backend)
	st := New(backend, log)
	if opts.DefaultHomeHours != nil {
		if err := st.SetDefaultHomeHours(*opts.DefaultHomeHours); err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	return st, nil
}
