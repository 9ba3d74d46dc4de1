// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDToken(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	claims := map[string]interface{}{
		"sub":   "alice",
		"nonce": "n-1",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	valid := TestUnsignedToken(t, claims)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	padded := "0." + base64.URLEncoding.EncodeToString(payload) + ".0"

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", raw: valid},
		{name: "padded", raw: padded},
		{name: "empty", raw: "", wantErr: true, wantIsErr: ErrInvalidIdToken},
		{name: "two-segments", raw: "a.b", wantErr: true, wantIsErr: ErrInvalidIdToken},
		{name: "bad-base64", raw: "0.!!!.0", wantErr: true, wantIsErr: ErrInvalidIdToken},
		{name: "not-json", raw: "0." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".0", wantErr: true, wantIsErr: ErrInvalidIdToken},
		{name: "json-array", raw: "0." + base64.RawURLEncoding.EncodeToString([]byte("[1]")) + ".0", wantErr: true, wantIsErr: ErrInvalidIdToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := ParseIDToken(tt.raw)
			if tt.wantErr {
				require.Error(err)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.raw, got.Raw())
			assert.Equal("alice", got.Subject())
			assert.Equal("n-1", got.Nonce())
			assert.Equal(now.Unix(), got.IssuedAt().Unix())
			assert.Equal(now.Add(time.Hour).Unix(), got.Expiry().Unix())
			assert.Equal("alice", got.Claim("sub"))
		})
	}
}

func TestIDToken_Claims(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tk, err := ParseIDToken(TestUnsignedToken(t, map[string]interface{}{"sub": "alice"}))
	require.NoError(err)
	c := tk.Claims()
	c["sub"] = "mallory"
	assert.Equal("alice", tk.Subject(), "Claims must return a copy")

	var nilToken *IDToken
	assert.Nil(nilToken.Claims())
	assert.Nil(nilToken.Claim("sub"))
	assert.Equal("", nilToken.Raw())
	assert.Equal("", nilToken.Subject())
	assert.True(nilToken.Expiry().IsZero())
}

func TestIDToken_Expired(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	clock := WithNow(func() time.Time { return now })
	token := func(exp time.Time) *IDToken {
		claims := map[string]interface{}{"sub": "alice"}
		if !exp.IsZero() {
			claims["exp"] = exp.Unix()
		}
		tk, err := ParseIDToken(TestUnsignedToken(t, claims))
		require.NoError(t, err)
		return tk
	}
	tests := []struct {
		name  string
		token *IDToken
		opts  []Option
		want  bool
	}{
		{name: "nil", token: nil, want: true},
		{name: "no-exp", token: token(time.Time{}), opts: []Option{clock}, want: true},
		{name: "valid", token: token(now.Add(time.Hour)), opts: []Option{clock}, want: false},
		{name: "inside-default-buffer", token: token(now.Add(30 * time.Second)), opts: []Option{clock}, want: true},
		{name: "exactly-buffer", token: token(now.Add(DefaultExpiryBuffer)), opts: []Option{clock}, want: true},
		{name: "zero-skew", token: token(now.Add(30 * time.Second)), opts: []Option{clock, WithExpirySkew(0)}, want: false},
		{name: "past", token: token(now.Add(-time.Hour)), opts: []Option{clock, WithExpirySkew(0)}, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.token.Expired(tt.opts...))
		})
	}
}

func TestAccessToken(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	clock := WithNow(func() time.Time { return now })
	tests := []struct {
		name  string
		token *AccessToken
		want  bool
	}{
		{name: "nil", token: nil, want: true},
		{name: "empty", token: NewAccessToken("", now.Add(time.Hour)), want: true},
		{name: "no-expiry", token: NewAccessToken("at", time.Time{}), want: false},
		{name: "valid", token: NewAccessToken("at", now.Add(time.Hour)), want: false},
		{name: "inside-buffer", token: NewAccessToken("at", now.Add(59*time.Second)), want: true},
		{name: "expired", token: NewAccessToken("at", now.Add(-time.Second)), want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.token.Expired(clock))
		})
	}
}

func TestTokens_Redacted(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	it, err := ParseIDToken(TestUnsignedToken(t, map[string]interface{}{"sub": "alice"}))
	require.NoError(err)
	at := NewAccessToken("super-secret", time.Time{})

	assert.Equal(RedactedIdToken, it.String())
	assert.Equal(RedactedAccessToken, at.String())
	assert.Equal(RedactedAccessToken, fmt.Sprintf("%s", at))

	b, err := json.Marshal(struct {
		ID     *IDToken
		Access *AccessToken
	}{it, at})
	require.NoError(err)
	assert.NotContains(string(b), "super-secret")
	assert.Contains(string(b), RedactedIdToken)
	assert.Contains(string(b), RedactedAccessToken)
}
