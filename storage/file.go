// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend persists values as a single JSON object on disk. The file is
// written with owner-only permissions and replaced atomically on every write.
type FileBackend struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// ensure that FileBackend implements the Backend interface
var _ Backend = (*FileBackend)(nil)

// NewFileBackend loads (or creates on first write) the JSON file at path.
func NewFileBackend(path string) (*FileBackend, error) {
	const op = "storage.NewFileBackend"
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	b := &FileBackend{path: path, values: map[string]string{}}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read %q: %w", op, path, err)
	}
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b.values); err != nil {
		return nil, fmt.Errorf("%s: unable to parse %q: %w", op, path, err)
	}
	return b, nil
}

func (b *FileBackend) Get(k string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[k]
	return v, ok, nil
}

func (b *FileBackend) Set(k, v string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, had := b.values[k]
	b.values[k] = v
	if err := b.flush(); err != nil {
		if had {
			b.values[k] = prev
		} else {
			delete(b.values, k)
		}
		return err
	}
	return nil
}

func (b *FileBackend) Delete(k string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, had := b.values[k]
	if !had {
		return nil
	}
	delete(b.values, k)
	if err := b.flush(); err != nil {
		b.values[k] = prev
		return err
	}
	return nil
}

func (b *FileBackend) Keys(prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// flush must be called with b.mu held.
func (b *FileBackend) flush() error {
	const op = "storage.(FileBackend).flush"
	raw, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("%s: %w: %s", op, ErrBackend, err)
	}
	return nil
}
