// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/capauth/host"
)

// DefaultIframeTimeout bounds an Iframe round trip.
const DefaultIframeTimeout = 10 * time.Second

// Iframe runs the round trip in an embedded frame, hidden unless WithVisible
// is given. It needs no user gesture, which makes it the usual renewer.
type Iframe struct {
	base
	loader  host.FrameLoader
	visible bool
}

// ensure that Iframe implements the Handler interface
var _ Handler = (*Iframe)(nil)

// NewIframe creates an Iframe handler.
// Supported options: WithName, WithDefault, WithTimeout, WithPollInterval,
// WithLogger, WithVisible
func NewIframe(loader host.FrameLoader, opt ...Option) (*Iframe, error) {
	const op = "handler.NewIframe"
	if loader == nil {
		return nil, fmt.Errorf("%s: frame loader is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts("iframe", DefaultIframeTimeout, opt...)
	if opts.withTimeout == 0 {
		opts.withTimeout = DefaultIframeTimeout
	}
	return &Iframe{base: newBase(opts), loader: loader, visible: opts.withVisible}, nil
}

// Auto implements Handler.
func (i *Iframe) Auto() bool { return true }

// Open implements Handler. The frame is removed on every outcome.
func (i *Iframe) Open(ctx context.Context, req Request) (Params, error) {
	const op = "handler.(Iframe).Open"
	if req.URL == "" {
		return nil, fmt.Errorf("%s: url is empty: %w", op, ErrInvalidParameter)
	}
	f, err := i.loader.LoadFrame(ctx, req.URL, i.visible)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to load frame: %w", op, err)
	}
	defer func() {
		if err := f.Remove(); err != nil {
			i.logger.Warn("unable to remove frame", "error", err)
		}
	}()
	return i.await(ctx, f, nil, req.RedirectURL, ErrIframeTimeout)
}
