// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/keyset"
	"github.com/hashicorp/capauth/storage"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/language"
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

// WithExpirySkew provides an optional expiry skew duration for: IDToken,
// AccessToken
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*tokenOptions); ok {
			v.withExpirySkew = d
		}
	}
}

// WithNow provides an optional clock for: Provider, IDToken, AccessToken
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *tokenOptions:
			v.withNow = now
		case *providerOptions:
			v.withNow = now
		}
	}
}

// tokenOptions is the set of available options for token functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNow        func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultExpiryBuffer,
		withNow:        time.Now,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed
// in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// providerOptions is the set of available options for NewProvider
type providerOptions struct {
	withStore                 storage.Store
	withLogger                hclog.Logger
	withLocation              host.Location
	withRenewer               handler.Handler
	withNow                   func() time.Time
	withSignatureVerification bool
	withKeySet                keyset.KeySet
}

func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithStore provides the store tokens and anti-replay state are kept in.
// When omitted an in-memory store is used.
func WithStore(s storage.Store) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withStore = s
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithLocation provides the current location, used to default redirect
// URLs to its origin.
func WithLocation(l host.Location) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withLocation = l
		}
	}
}

// WithRenewer provides the unattended handler used to renew expired access
// tokens.
func WithRenewer(h handler.Handler) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withRenewer = h
		}
	}
}

// WithSignatureVerification verifies id_token signatures during validation.
// Keys come from WithKeySet, the config's JWKSURL or PublicKeys, or the
// issuer's discovery document, in that order.
func WithSignatureVerification() Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withSignatureVerification = true
		}
	}
}

// WithKeySet provides the key set used by WithSignatureVerification.
func WithKeySet(ks keyset.KeySet) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withKeySet = ks
		}
	}
}

// authURLOptions is the set of per-call overrides for BuildAuthorizationURL
type authURLOptions struct {
	withResponseType string
	withScope        string
	withPrompt       string
	withUILocales    []language.Tag
	withLoginHint    string
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithResponseType overrides the configured response type for one request.
func WithResponseType(rt string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withResponseType = rt
		}
	}
}

// WithScope overrides the configured scope for one request.
func WithScope(scope string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withScope = scope
		}
	}
}

// WithPrompt sets the "prompt" parameter, "none" for unattended requests.
func WithPrompt(prompt string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withPrompt = prompt
		}
	}
}

// WithUILocales sets the "ui_locales" parameter.
func WithUILocales(tags ...language.Tag) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withUILocales = tags
		}
	}
}

// WithLoginHint sets the "login_hint" parameter.
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withLoginHint = hint
		}
	}
}
