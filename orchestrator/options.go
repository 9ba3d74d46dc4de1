// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
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

// options is the set of available options for New
type options struct {
	withLogger          hclog.Logger
	withRegisterer      prometheus.Registerer
	withLoginListeners  []LoginListener
	withLogoutListeners []LogoutListener
}

func getDefaultOptions() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	if opts.withRegisterer == nil {
		opts.withRegisterer = prometheus.NewRegistry()
	}
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithRegisterer registers the orchestrator's metrics with r. By default they
// are kept in a private registry. Orchestrators given the same registerer
// share one set of counters.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRegisterer = r
		}
	}
}

// WithLoginListener registers fn before any pending flow is resumed, so it
// also observes the outcome of a login that started in an earlier process.
func WithLoginListener(fn LoginListener) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fn != nil {
			o.withLoginListeners = append(o.withLoginListeners, fn)
		}
	}
}

// WithLogoutListener is the logout counterpart of WithLoginListener.
func WithLogoutListener(fn LogoutListener) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && fn != nil {
			o.withLogoutListeners = append(o.withLogoutListeners, fn)
		}
	}
}

// flowOptions is the set of available options for Login and Logout
type flowOptions struct {
	withHandler  string
	withAuthOpts []oidc.Option
}

func getFlowOpts(opt ...Option) flowOptions {
	opts := flowOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHandler selects the handler of a Login or Logout by name. The default
// handler is used without it.
func WithHandler(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withHandler = name
		}
	}
}

// WithAuthorizationOptions passes options such as oidc.WithLoginHint to the
// provider's BuildAuthorizationURL during Login.
func WithAuthorizationOptions(opt ...oidc.Option) Option {
	return func(o interface{}) {
		if o, ok := o.(*flowOptions); ok {
			o.withAuthOpts = append(o.withAuthOpts, opt...)
		}
	}
}
