// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultExpiryBuffer is how long before its expiry a token is already
// considered expired.
const DefaultExpiryBuffer = 60 * time.Second

const (
	// RedactedIdToken is the redacted string or json for an oidc id_token
	RedactedIdToken = "[REDACTED: id_token]"

	// RedactedAccessToken is the redacted string or json for an oauth access_token
	RedactedAccessToken = "[REDACTED: access_token]"
)

// IDToken is a parsed oidc id_token. Claims are decoded without verifying
// the signature; see WithSignatureVerification.
type IDToken struct {
	raw      string
	claims   map[string]interface{}
	issuedAt time.Time
	expiry   time.Time
}

// ParseIDToken decodes the claims of a three segment, base64url encoded
// token. Padded and unpadded segments are both accepted.
func ParseIDToken(raw string) (*IDToken, error) {
	const op = "oidc.ParseIDToken"
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%s: expected 3 segments, got %d: %w", op, len(segments), ErrInvalidIdToken)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segments[1], "="))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to decode payload: %w", op, ErrInvalidIdToken)
	}
	claims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%s: payload is not a claim set: %w", op, ErrInvalidIdToken)
	}
	return &IDToken{
		raw:      raw,
		claims:   claims,
		issuedAt: numericDate(claims["iat"]),
		expiry:   numericDate(claims["exp"]),
	}, nil
}

func numericDate(v interface{}) time.Time {
	switch n := v.(type) {
	case float64:
		sec := int64(n)
		return time.Unix(sec, int64((n-float64(sec))*float64(time.Second)))
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return numericDate(f)
		}
	}
	return time.Time{}
}

// Raw returns the encoded token.
func (t *IDToken) Raw() string {
	if t == nil {
		return ""
	}
	return t.raw
}

// Claims returns a copy of the decoded claim set.
func (t *IDToken) Claims() map[string]interface{} {
	if t == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(t.claims))
	for k, v := range t.claims {
		cp[k] = v
	}
	return cp
}

// Claim returns a single claim, or nil.
func (t *IDToken) Claim(name string) interface{} {
	if t == nil {
		return nil
	}
	return t.claims[name]
}

func (t *IDToken) stringClaim(name string) string {
	s, _ := t.Claim(name).(string)
	return s
}

// Nonce returns the "nonce" claim.
func (t *IDToken) Nonce() string { return t.stringClaim("nonce") }

// Subject returns the "sub" claim.
func (t *IDToken) Subject() string { return t.stringClaim("sub") }

// IssuedAt returns the "iat" claim, or the zero time.
func (t *IDToken) IssuedAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.issuedAt
}

// Expiry returns the "exp" claim, or the zero time.
func (t *IDToken) Expiry() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.expiry
}

// Expired reports whether now plus the expiry skew has reached the token's
// expiry. A nil token, or one without an "exp" claim, is expired.
// Supported options: WithExpirySkew, WithNow
func (t *IDToken) Expired(opt ...Option) bool {
	if t == nil || t.raw == "" {
		return true
	}
	return expired(t.expiry, opt...)
}

// String will redact the token
func (t *IDToken) String() string { return RedactedIdToken }

// MarshalJSON will redact the token
func (t *IDToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedIdToken) }

// AccessToken is an oauth access_token and its expiry.
type AccessToken struct {
	raw    string
	expiry time.Time
}

// NewAccessToken creates an AccessToken. A zero expiry never expires.
func NewAccessToken(raw string, expiry time.Time) *AccessToken {
	return &AccessToken{raw: raw, expiry: expiry}
}

// Raw returns the encoded token.
func (t *AccessToken) Raw() string {
	if t == nil {
		return ""
	}
	return t.raw
}

// Expiry returns when the token expires, or the zero time.
func (t *AccessToken) Expiry() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.expiry
}

// Expired reports whether now plus the expiry skew has reached the token's
// expiry. A nil or empty token is expired; a token without an expiry is not.
// Supported options: WithExpirySkew, WithNow
func (t *AccessToken) Expired(opt ...Option) bool {
	if t == nil || t.raw == "" {
		return true
	}
	if t.expiry.IsZero() {
		return false
	}
	return expired(t.expiry, opt...)
}

// String will redact the token
func (t *AccessToken) String() string { return RedactedAccessToken }

// MarshalJSON will redact the token
func (t *AccessToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedAccessToken) }

func expired(expiry time.Time, opt ...Option) bool {
	if expiry.IsZero() {
		return true
	}
	opts := getTokenOpts(opt...)
	return !opts.withNow().Add(opts.withExpirySkew).Before(expiry)
}

// LoginPayload is delivered with a successful validation. The populated
// fields depend on the response type that was requested.
type LoginPayload struct {
	IDToken     *IDToken
	AccessToken *AccessToken
	Code        string
}
