// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/capauth/urlutil"
	"github.com/hashicorp/go-multierror"
)

// Kind selects the protocol a Provider speaks.
type Kind string

const (
	KindOpenID Kind = "openid"
	KindOAuth2 Kind = "oauth2"
)

// RenewalType selects how expired access tokens are handled.
type RenewalType string

const (
	// RenewalAuto renews unattended through the provider's renewer.
	RenewalAuto RenewalType = "auto"
	// RenewalManual asks the caller to log in again.
	RenewalManual RenewalType = "manual"
)

// response types
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

// ScopeOpenID is required for oidc requests and is the default scope of
// openid providers.
const ScopeOpenID = "openid"

// Renewal configures access token renewal.
type Renewal struct {
	// Type defaults to RenewalAuto.
	Type RenewalType

	// Buffer is how long before expiry a token is treated as expired.
	// Defaults to DefaultExpiryBuffer.
	Buffer time.Duration

	// Timeout optionally bounds a single unattended renewal.
	Timeout time.Duration
}

// RedirectURLs are the URLs the provider returns to. Logout falls back to
// Login, and Login falls back to the origin of the current location.
type RedirectURLs struct {
	Login  string
	Logout string
}

// Config is the configuration of one Provider.
type Config struct {
	// Name uniquely identifies the provider in an orchestrator and scopes
	// its anti-replay values. It may not contain a ".", which separates
	// store scopes.
	Name string

	Kind Kind

	// ClientID is the relying party id
	ClientID string

	// Issuer optionally enables discovery of AuthURL, LogoutURL and the
	// signing keys.
	Issuer string

	// AuthURL is the authorization endpoint. Required without Issuer.
	AuthURL string

	// LogoutURL is the logout or end session endpoint.
	LogoutURL string

	RedirectURL RedirectURLs

	// ResponseType is one or more of "code", "token" and "id_token",
	// space separated. Defaults to "id_token" for openid and "token" for
	// oauth2.
	ResponseType string

	// Scope is space separated. Defaults to "openid" for openid.
	Scope string

	// ResponseMode is an optional "response_mode" (query, fragment,
	// form_post).
	ResponseMode string

	Renewal Renewal

	// Endpoints are the request destinations this provider secures.
	Endpoints urlutil.Patterns

	// Routes are the locations that require an authenticated session.
	Routes urlutil.Patterns

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// JWKSURL and PublicKeys provide id_token verification keys without
	// discovery.
	JWKSURL    string
	PublicKeys []string
}

// Validate the provider configuration. It does not contact the issuer.
func (c *Config) Validate() error {
	const op = "oidc.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	switch {
	case strings.TrimSpace(c.Name) == "":
		result = multierror.Append(result, fmt.Errorf("name is empty: %w", ErrInvalidParameter))
	case strings.Contains(c.Name, "."):
		result = multierror.Append(result, fmt.Errorf("name %q contains a \".\": %w", c.Name, ErrInvalidParameter))
	}
	if c.Kind != KindOpenID && c.Kind != KindOAuth2 {
		result = multierror.Append(result, fmt.Errorf("kind %q is not %q or %q: %w", c.Kind, KindOpenID, KindOAuth2, ErrInvalidParameter))
	}
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.Issuer == "" && c.AuthURL == "" {
		result = multierror.Append(result, fmt.Errorf("issuer and auth url are both empty: %w", ErrInvalidParameter))
	}
	for _, u := range []struct{ name, value string }{
		{"issuer", c.Issuer},
		{"auth url", c.AuthURL},
		{"logout url", c.LogoutURL},
		{"login redirect url", c.RedirectURL.Login},
		{"logout redirect url", c.RedirectURL.Logout},
		{"jwks url", c.JWKSURL},
	} {
		if u.value == "" {
			continue
		}
		if parsed, err := url.Parse(u.value); err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
			result = multierror.Append(result, fmt.Errorf("%s %q is not an absolute http(s) url: %w", u.name, u.value, ErrInvalidParameter))
		}
	}
	if c.ResponseType != "" {
		if err := validResponseType(c.ResponseType); err != nil {
			result = multierror.Append(result, err)
		} else if c.Kind == KindOAuth2 && hasResponseType(c.ResponseType, ResponseTypeIDToken) {
			result = multierror.Append(result, fmt.Errorf("oauth2 providers cannot request an id_token: %w", ErrInvalidResponseType))
		}
	}
	switch c.Renewal.Type {
	case "", RenewalAuto, RenewalManual:
	default:
		result = multierror.Append(result, fmt.Errorf("renewal type %q is not %q or %q: %w", c.Renewal.Type, RenewalAuto, RenewalManual, ErrInvalidParameter))
	}
	if c.Renewal.Buffer < 0 || c.Renewal.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("renewal durations must not be negative: %w", ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// withDefaults returns a copy of c with defaults applied.
func (c *Config) withDefaults() *Config {
	cp := *c
	cp.PublicKeys = append([]string(nil), c.PublicKeys...)
	if cp.ResponseType == "" {
		switch cp.Kind {
		case KindOpenID:
			cp.ResponseType = ResponseTypeIDToken
		default:
			cp.ResponseType = ResponseTypeToken
		}
	}
	if cp.Scope == "" && cp.Kind == KindOpenID {
		cp.Scope = ScopeOpenID
	}
	if cp.Renewal.Type == "" {
		cp.Renewal.Type = RenewalAuto
	}
	if cp.Renewal.Buffer == 0 {
		cp.Renewal.Buffer = DefaultExpiryBuffer
	}
	return &cp
}

func validResponseType(rt string) error {
	types := strings.Fields(rt)
	if len(types) == 0 {
		return fmt.Errorf("response type is empty: %w", ErrInvalidResponseType)
	}
	for _, t := range types {
		switch t {
		case ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken:
		default:
			return fmt.Errorf("response type %q is not recognized: %w", t, ErrInvalidResponseType)
		}
	}
	return nil
}

func hasResponseType(rt, want string) bool {
	for _, t := range strings.Fields(rt) {
		if t == want {
			return true
		}
	}
	return false
}
