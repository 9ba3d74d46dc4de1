// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package interceptor

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
)

// Transport runs its hooks on a clone of every request before handing it to
// Base.
type Transport struct {
	// Base defaults to a pooled cleanhttp transport.
	Base  http.RoundTripper
	Hooks *Registry[*http.Request]
}

// ensure that Transport implements the http.RoundTripper interface
var _ http.RoundTripper = (*Transport)(nil)

// NewTransport creates a Transport dispatching through base, which may be
// nil.
func NewTransport(hooks *Registry[*http.Request], base http.RoundTripper) (*Transport, error) {
	const op = "interceptor.NewTransport"
	if hooks == nil {
		return nil, fmt.Errorf("%s: hooks are nil: %w", op, ErrNilParameter)
	}
	if base == nil {
		base = cleanhttp.DefaultPooledTransport()
	}
	return &Transport{Base: base, Hooks: hooks}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	const op = "interceptor.(Transport).RoundTrip"
	// hooks must not modify the caller's request
	r := req.Clone(req.Context())
	if t.Hooks != nil {
		if err := t.Hooks.Run(req.Context(), r); err != nil {
			if req.Body != nil {
				_ = req.Body.Close()
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// Client returns an http.Client that dispatches through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
