// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package handler provides the transports that carry an authorization
// request to an identity provider and bring the response parameters back.
//
// Variants differ in whether they need a user gesture (Popup, Tab,
// Loopback), whether they can run unattended (Iframe, Redirect) and whether
// they survive leaving the current document (Redirect).
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/urlutil"
	"github.com/hashicorp/go-hclog"
)

// Action identifies the flow a handler is completing.
type Action string

const (
	ActionNone   Action = ""
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

// Valid reports whether a is a recognized action, ActionNone included.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// Params are the response parameters parsed from the return URL's query and
// fragment.
type Params map[string]string

// Request describes one transport round trip.
type Request struct {
	// URL to visit.
	URL string
	// RedirectURL the identity provider returns to.
	RedirectURL string
}

// ConnectedRequest is passed to every handler once at process start. Action
// is set only for the handler that owns the resumed flow.
type ConnectedRequest struct {
	Action Action
}

// Handler is a transport mechanism.
type Handler interface {
	Name() string
	// Auto reports whether the handler can run without a user gesture.
	Auto() bool
	// Default reports whether the handler is selected when none is named.
	Default() bool
	Open(ctx context.Context, req Request) (Params, error)
	Connected(ctx context.Context, req ConnectedRequest) (Params, error)
}

type base struct {
	name     string
	def      bool
	timeout  time.Duration
	interval time.Duration
	logger   hclog.Logger
}

func newBase(opts options) base {
	return base{
		name:     opts.withName,
		def:      opts.withDefault,
		timeout:  opts.withTimeout,
		interval: opts.withPollInterval,
		logger:   opts.withLogger.Named(opts.withName),
	}
}

// Name implements Handler.
func (b *base) Name() string { return b.name }

// Default implements Handler.
func (b *base) Default() bool { return b.def }

// Connected implements Handler for transports with nothing to resume.
func (b *base) Connected(context.Context, ConnectedRequest) (Params, error) {
	return nil, nil
}

// viewer is an inspectable browsing context (a window or a frame).
type viewer interface {
	Location() (string, error)
}

// await polls v until it reaches redirectURL. closed may be nil. When the
// handler's own timeout elapses timeoutErr is returned; cancellation of ctx
// returns ctx.Err().
func (b *base) await(ctx context.Context, v viewer, closed func() bool, redirectURL string, timeoutErr error) (Params, error) {
	const op = "handler.await"
	waitCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		loc, err := v.Location()
		switch {
		case errors.Is(err, host.ErrCrossOrigin):
		case err != nil:
			return nil, fmt.Errorf("%s: unable to read location: %w", op, err)
		case urlutil.SameLocation(loc, redirectURL):
			p, err := urlutil.Params(loc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			return Params(p), nil
		}
		if closed != nil && closed() {
			return nil, fmt.Errorf("%s: window closed: %w", op, ErrUserCancelled)
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() == nil && timeoutErr != nil {
				return nil, fmt.Errorf("%s: no response after %s: %w", op, b.timeout, timeoutErr)
			}
			return nil, fmt.Errorf("%s: %w", op, waitCtx.Err())
		case <-ticker.C:
		}
	}
}
