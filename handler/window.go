// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/capauth/host"
)

// window drives a secondary window until it returns to the redirect URL.
// Only one window is open per handler at a time.
type window struct {
	base
	opener   host.WindowOpener
	target   string
	features string

	mu   sync.Mutex
	busy bool
}

// Auto implements Handler. Windows need a user gesture.
func (w *window) Auto() bool { return false }

// Open implements Handler.
func (w *window) Open(ctx context.Context, req Request) (Params, error) {
	const op = "handler.(window).Open"
	if req.URL == "" {
		return nil, fmt.Errorf("%s: url is empty: %w", op, ErrInvalidParameter)
	}
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return nil, fmt.Errorf("%s: %s already open: %w", op, w.name, ErrHandlerBusy)
	}
	w.busy = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
	}()

	win, err := w.opener.Open(req.URL, w.target, w.features)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open window: %w", op, err)
	}
	if win == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrPopupBlocked)
	}
	defer func() {
		if err := win.Close(); err != nil {
			w.logger.Warn("unable to close window", "error", err)
		}
	}()
	w.logger.Debug("window opened", "url", req.URL)
	return w.await(ctx, win, win.Closed, req.RedirectURL, nil)
}

// Popup opens the authorization URL in a sized popup window.
type Popup struct{ window }

// ensure that Popup implements the Handler interface
var _ Handler = (*Popup)(nil)

// NewPopup creates a Popup handler.
// Supported options: WithName, WithDefault, WithTimeout, WithPollInterval,
// WithLogger, WithSize
func NewPopup(opener host.WindowOpener, opt ...Option) (*Popup, error) {
	const op = "handler.NewPopup"
	if opener == nil {
		return nil, fmt.Errorf("%s: window opener is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts("popup", 0, opt...)
	return &Popup{window{
		base:     newBase(opts),
		opener:   opener,
		target:   "capauth-popup",
		features: fmt.Sprintf("width=%d,height=%d", opts.withWidth, opts.withHeight),
	}}, nil
}

// Tab opens the authorization URL in a new tab.
type Tab struct{ window }

// ensure that Tab implements the Handler interface
var _ Handler = (*Tab)(nil)

// NewTab creates a Tab handler.
// Supported options: WithName, WithDefault, WithTimeout, WithPollInterval,
// WithLogger
func NewTab(opener host.WindowOpener, opt ...Option) (*Tab, error) {
	const op = "handler.NewTab"
	if opener == nil {
		return nil, fmt.Errorf("%s: window opener is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts("tab", 0, opt...)
	return &Tab{window{
		base:   newBase(opts),
		opener: opener,
		target: "_blank",
	}}, nil
}
