// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"context"
	"fmt"

	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/storage"
	"github.com/hashicorp/capauth/urlutil"
)

const originKey = "origin"

// Redirect navigates the current document to the identity provider. Open
// never returns parameters; the response is picked up by Connected once the
// provider has redirected back and the process has restarted.
type Redirect struct {
	base
	nav   host.Navigator
	store storage.Store
}

// ensure that Redirect implements the Handler interface
var _ Handler = (*Redirect)(nil)

// NewRedirect creates a Redirect handler. WithStore is required so the
// origin URL survives the navigation.
// Supported options: WithName, WithDefault, WithLogger, WithStore
func NewRedirect(nav host.Navigator, opt ...Option) (*Redirect, error) {
	const op = "handler.NewRedirect"
	if nav == nil {
		return nil, fmt.Errorf("%s: navigator is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts("redirect", 0, opt...)
	if opts.withStore == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	return &Redirect{base: newBase(opts), nav: nav, store: opts.withStore}, nil
}

// Auto implements Handler.
func (r *Redirect) Auto() bool { return true }

// Open remembers the current location and navigates to req.URL. It always
// returns an error wrapping ErrNavigated on success.
func (r *Redirect) Open(_ context.Context, req Request) (Params, error) {
	const op = "handler.(Redirect).Open"
	if req.URL == "" {
		return nil, fmt.Errorf("%s: url is empty: %w", op, ErrInvalidParameter)
	}
	if err := r.store.Set(originKey, r.nav.URL()); err != nil {
		return nil, fmt.Errorf("%s: unable to store origin: %w", op, err)
	}
	r.logger.Debug("navigating", "url", req.URL)
	if err := r.nav.Navigate(req.URL); err != nil {
		_ = r.store.Set(originKey, "")
		return nil, fmt.Errorf("%s: unable to navigate: %w", op, err)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrNavigated)
}

// Connected parses the response from the current location and returns the
// document to the URL it was on before Open, when an action is resuming.
func (r *Redirect) Connected(_ context.Context, req ConnectedRequest) (Params, error) {
	const op = "handler.(Redirect).Connected"
	if req.Action == ActionNone {
		return nil, nil
	}
	p, err := urlutil.Params(r.nav.URL())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if origin := r.store.Get(originKey, ""); origin != "" {
		if err := r.store.Set(originKey, ""); err != nil {
			r.logger.Warn("unable to clear origin", "error", err)
		}
		if err := r.nav.Replace(origin); err != nil {
			return nil, fmt.Errorf("%s: unable to restore origin: %w", op, err)
		}
	}
	return Params(p), nil
}
