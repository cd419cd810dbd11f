// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package filekv implements a key/value backend in a single JSON document that can be shared by
// several processes. Access is serialized with flock(2) on a sidecar lock file and the document is
// replaced atomically on every write.
package filekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/wneessen/waybar-humidity/internal/logger"
)

var (
	ErrInvalidValue = errors.New("value is not valid JSON")

	// ErrCorruptDocument is returned by read when the store file is not a valid document.
	ErrCorruptDocument = errors.New("store document is corrupt")
)

type document map[string]map[string]json.RawMessage

type FileKV struct {
	path     string
	lockPath string
	logger   *logger.Logger
}

type Option func(*FileKV)

// WithLogger reports recovered store documents to log.
func WithLogger(log *logger.Logger) Option {
	return func(f *FileKV) {
		f.logger = log
	}
}

// New returns a FileKV for the document at path. The parent directory is created if needed.
func New(path string, opts ...Option) (*FileKV, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	kv := &FileKV{path: path, lockPath: path + ".lock"}
	for _, opt := range opts {
		opt(kv)
	}
	return kv, nil
}

func (f *FileKV) Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock, err := f.lock(unix.LOCK_SH)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := f.read()
	if errors.Is(err, ErrCorruptDocument) {
		f.warn("reading corrupt store document as empty", err)
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	return pick(doc, namespace, keys), nil
}

func (f *FileKV) Set(ctx context.Context, namespace string, values map[string][]byte) error {
	return f.Update(ctx, namespace, nil, func(map[string][]byte) (map[string][]byte, error) {
		return values, nil
	})
}

// Update passes the current values of keys to fn and writes the values it returns. The exclusive
// lock is held from the read to the write, so no other process can write in between. An error
// returned by fn aborts the update and is returned unchanged.
func (f *FileKV) Update(ctx context.Context, namespace string, keys []string,
	fn func(current map[string][]byte) (map[string][]byte, error),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := f.lock(unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := f.read()
	if errors.Is(err, ErrCorruptDocument) {
		// the next write replaces the broken document, keep a copy of it
		f.warn("replacing corrupt store document", err, "backup", f.path+".corrupt")
		_ = os.Rename(f.path, f.path+".corrupt")
		doc, err = make(document), nil
	}
	if err != nil {
		return err
	}

	values, err := fn(pick(doc, namespace, keys))
	if err != nil {
		return err
	}
	for key, value := range values {
		if !json.Valid(value) {
			return fmt.Errorf("%w: %s", ErrInvalidValue, key)
		}
	}
	if len(values) == 0 {
		return nil
	}
	ns, ok := doc[namespace]
	if !ok {
		ns = make(map[string]json.RawMessage, len(values))
		doc[namespace] = ns
	}
	for key, value := range values {
		ns[key] = append(json.RawMessage(nil), value...)
	}
	return f.write(doc)
}

func (f *FileKV) Close() error {
	return nil
}

func (f *FileKV) lock(how int) (func(), error) {
	file, err := os.OpenFile(f.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	for {
		err = unix.Flock(int(file.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	return func() {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
		_ = file.Close()
	}, nil
}

func (f *FileKV) read() (document, error) {
	doc := make(document)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptDocument, err)
	}
	return doc, nil
}

func (f *FileKV) warn(msg string, err error, args ...any) {
	if f.logger == nil {
		return
	}
	f.logger.Warn(msg, append([]any{logger.Err(err), "path", f.path}, args...)...)
}

func pick(doc document, namespace string, keys []string) map[string][]byte {
	values := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := doc[namespace][key]; ok {
			values[key] = append([]byte(nil), value...)
		}
	}
	return values
}

func (f *FileKV) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary store file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary store file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary store file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary store file: %w", err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
