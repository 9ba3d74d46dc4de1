// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/go-hclog"
)

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
	withLogger        hclog.Logger
	withBrowserOpener func(string) error
	withProviderOpts  []oidc.Option
}

func getDefaultOptions() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger, handed down to every component
// that is built.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithBrowserOpener replaces the system browser launcher of loopback
// handlers.
func WithBrowserOpener(fn func(url string) error) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withBrowserOpener = fn
		}
	}
}

// WithProviderOptions appends opt to the options every provider is created
// with.
func WithProviderOptions(opt ...oidc.Option) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withProviderOpts = append(o.withProviderOpts, opt...)
		}
	}
}
