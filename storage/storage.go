// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package storage provides the scoped key/value persistence used for tokens,
// anti-replay state and the orchestrator's continuation record.
//
// A Store is always bound to a name scope, so independent stores sharing a
// Backend never collide. Backends are supplied for process memory
// (NewMemoryBackend), a JSON file that survives restarts (NewFileBackend) and
// redis (NewRedisBackend).
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrBackend          = errors.New("storage backend failure")
)

// Store is the scoped get/set/clear contract consumed by providers, handlers
// and the orchestrator.
type Store interface {
	// Get returns the value stored for key, or def when there is none.
	Get(key, def string) string

	// Set stores value for key. An empty value removes the key.
	Set(key, value string) error

	// Clear removes every key in this store's scope, and only those.
	Clear() error
}

// Backend is the raw, unscoped medium a Scoped store writes through.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	// Keys returns every key starting with prefix.
	Keys(prefix string) ([]string, error)
}

// Scoped is a Store that namespaces its keys as "<scope>.<key>" on a Backend.
type Scoped struct {
	backend Backend
	scope   string
	logger  hclog.Logger
}

// ensure that Scoped implements the Store interface
var _ Store = (*Scoped)(nil)

// New creates a Store for scope on top of b.
// Supported options: WithLogger
func New(b Backend, scope string, opt ...Option) (*Scoped, error) {
	const op = "storage.New"
	if b == nil {
		return nil, fmt.Errorf("%s: backend is nil: %w", op, ErrNilParameter)
	}
	if strings.TrimSpace(scope) == "" {
		return nil, fmt.Errorf("%s: scope is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	return &Scoped{
		backend: b,
		scope:   scope,
		logger:  opts.withLogger.Named("storage").With("scope", scope),
	}, nil
}

// NewMemory is a convenience for a Store on a fresh, non-expiring memory
// backend.
func NewMemory(scope string, opt ...Option) (*Scoped, error) {
	return New(NewMemoryBackend(0), scope, opt...)
}

// Scope returns the name scope of the store.
func (s *Scoped) Scope() string { return s.scope }

// Sub returns a Store for the nested scope "<scope>.<name>" on the same
// backend. name may not contain a ".".
func (s *Scoped) Sub(name string) (*Scoped, error) {
	const op = "storage.(Scoped).Sub"
	switch {
	case strings.TrimSpace(name) == "":
		return nil, fmt.Errorf("%s: name is empty: %w", op, ErrInvalidParameter)
	case strings.Contains(name, "."):
		return nil, fmt.Errorf("%s: name %q contains a \".\": %w", op, name, ErrInvalidParameter)
	}
	return &Scoped{
		backend: s.backend,
		scope:   s.scope + "." + name,
		logger:  s.logger.With("scope", s.scope+"."+name),
	}, nil
}

func (s *Scoped) key(k string) string { return s.scope + "." + k }

// Get implements Store. Backend read failures are logged and reported as a
// missing key.
func (s *Scoped) Get(key, def string) string {
	v, ok, err := s.backend.Get(s.key(key))
	if err != nil {
		s.logger.Warn("unable to read key", "key", key, "error", err)
		return def
	}
	if !ok {
		return def
	}
	return v
}

// Set implements Store.
func (s *Scoped) Set(key, value string) error {
	const op = "storage.(Scoped).Set"
	var err error
	switch value {
	case "":
		err = s.backend.Delete(s.key(key))
	default:
		err = s.backend.Set(s.key(key), value)
	}
	if err != nil {
		return fmt.Errorf("%s: key %q: %w", op, key, err)
	}
	return nil
}

// Clear implements Store. Keys of nested scopes are removed too. Every key
// is attempted; failures are aggregated.
func (s *Scoped) Clear() error {
	const op = "storage.(Scoped).Clear"
	keys, err := s.backend.Keys(s.scope + ".")
	if err != nil {
		return fmt.Errorf("%s: unable to list keys: %w", op, err)
	}
	var retErr *multierror.Error
	for _, k := range keys {
		if err := s.backend.Delete(k); err != nil {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: key %q: %w", op, k, err))
		}
	}
	return retErr.ErrorOrNil()
}
