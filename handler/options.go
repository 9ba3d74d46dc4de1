// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"time"

	"github.com/hashicorp/capauth/storage"
	"github.com/hashicorp/go-hclog"
)

// DefaultPollInterval is how often windows and frames are inspected.
const DefaultPollInterval = 100 * time.Millisecond

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type options struct {
	withName         string
	withDefault      bool
	withTimeout      time.Duration
	withPollInterval time.Duration
	withLogger       hclog.Logger
	withStore        storage.Store

	// popup
	withWidth  int
	withHeight int

	// iframe
	withVisible bool

	// loopback
	withBrowserOpener   func(url string) error
	withSuccessResponse SuccessResponseFunc
	withErrorResponse   ErrorResponseFunc
}

func getDefaultOptions(name string, timeout time.Duration) options {
	return options{
		withName:         name,
		withTimeout:      timeout,
		withPollInterval: DefaultPollInterval,
		withLogger:       hclog.NewNullLogger(),
		withWidth:        600,
		withHeight:       400,
	}
}

func getOpts(name string, timeout time.Duration, opt ...Option) options {
	opts := getDefaultOptions(name, timeout)
	ApplyOpts(&opts, opt...)
	return opts
}

// WithName overrides the handler's registry name.
func WithName(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && n != "" {
			o.withName = n
		}
	}
}

// WithDefault marks the handler as the default one.
func WithDefault() Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withDefault = true
		}
	}
}

// WithTimeout bounds how long the handler waits for a response. Zero waits
// until the context is done.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d >= 0 {
			o.withTimeout = d
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && d > 0 {
			o.withPollInterval = d
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithStore provides the store a Redirect handler keeps its origin URL in.
func WithStore(s storage.Store) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withStore = s
		}
	}
}

// WithSize sets the popup window dimensions.
func WithSize(width, height int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && width > 0 && height > 0 {
			o.withWidth = width
			o.withHeight = height
		}
	}
}

// WithVisible renders the Iframe handler's frame instead of hiding it.
func WithVisible() Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withVisible = true
		}
	}
}

// WithBrowserOpener replaces the system browser launcher used by Loopback.
func WithBrowserOpener(fn func(url string) error) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fn != nil {
			o.withBrowserOpener = fn
		}
	}
}

// WithSuccessResponse replaces the page Loopback shows once a response was
// received.
func WithSuccessResponse(fn SuccessResponseFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fn != nil {
			o.withSuccessResponse = fn
		}
	}
}

// WithErrorResponse replaces the page Loopback shows for an error response
// or a callback it rejected.
func WithErrorResponse(fn ErrorResponseFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fn != nil {
			o.withErrorResponse = fn
		}
	}
}
