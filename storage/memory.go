// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps values in process memory. With a non-zero TTL it
// behaves like a session-scoped medium: values expire ttl after their last
// write.
type MemoryBackend struct{ c *gocache.Cache }

// ensure that MemoryBackend implements the Backend interface
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a MemoryBackend. A ttl of zero never expires
// values.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	if ttl <= 0 {
		return &MemoryBackend{c: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryBackend{c: gocache.New(ttl, time.Minute)}
}

func (m *MemoryBackend) Get(k string) (string, bool, error) {
	v, ok := m.c.Get(k)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *MemoryBackend) Set(k, v string) error {
	m.c.Set(k, v, gocache.DefaultExpiration)
	return nil
}

func (m *MemoryBackend) Delete(k string) error {
	m.c.Delete(k)
	return nil
}

func (m *MemoryBackend) Keys(prefix string) ([]string, error) {
	var keys []string
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
