// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package interceptor provides the hook points outgoing requests pass through
// before they are dispatched: a fetch style http.RoundTripper and an XHR
// style request handle.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrHookFailed       = errors.New("request hook failed")
)

// Hook is called with a mutable request before it is dispatched. Returning
// an error aborts the request.
type Hook[R any] func(ctx context.Context, req R) error

// Registry is an ordered set of hooks for requests of type R. It is safe for
// concurrent use.
type Registry[R any] struct {
	mu    sync.Mutex
	next  int
	order []int
	hooks map[int]Hook[R]
}

// NewRegistry creates an empty Registry.
func NewRegistry[R any]() *Registry[R] {
	return &Registry[R]{hooks: map[int]Hook[R]{}}
}

// Add appends h and returns a function that removes it again.
func (r *Registry[R]) Add(h Hook[R]) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.order = append(r.order, id)
	r.hooks[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.hooks, id)
			for i, v := range r.order {
				if v == id {
					r.order = append(r.order[:i], r.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Len returns the number of registered hooks.
func (r *Registry[R]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Run calls every hook in registration order and stops at the first error.
func (r *Registry[R]) Run(ctx context.Context, req R) error {
	const op = "interceptor.(Registry).Run"
	r.mu.Lock()
	hooks := make([]Hook[R], 0, len(r.order))
	for _, id := range r.order {
		hooks = append(hooks, r.hooks[id])
	}
	r.mu.Unlock()
	for _, h := range hooks {
		if err := h(ctx, req); err != nil {
			return fmt.Errorf("%s: %w: %w", op, ErrHookFailed, err)
		}
	}
	return nil
}
