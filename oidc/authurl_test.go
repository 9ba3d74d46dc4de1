// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"net/url"
	"testing"

	"github.com/hashicorp/capauth/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestProvider_BuildAuthorizationURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		modify    func(*Config)
		opts      []Option
		want      url.Values
		wantNonce bool
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "openid-defaults",
			want: url.Values{
				"client_id":     {"test-client"},
				"redirect_uri":  {"https://app.example.com/callback"},
				"response_type": {"id_token"},
				"scope":         {"openid"},
			},
			wantNonce: true,
		},
		{
			name:   "oauth2-token",
			modify: func(c *Config) { c.Kind = KindOAuth2; c.Scope = "read write" },
			want: url.Values{
				"response_type": {"token"},
				"scope":         {"read write"},
			},
		},
		{
			name:      "response-mode",
			modify:    func(c *Config) { c.ResponseMode = "query" },
			want:      url.Values{"response_mode": {"query"}},
			wantNonce: true,
		},
		{
			name: "overrides",
			opts: []Option{
				WithResponseType("id_token token"),
				WithScope("openid profile"),
				WithPrompt("none"),
				WithLoginHint("alice@example.com"),
				WithUILocales(language.MustParse("fr-CA"), language.English),
			},
			want: url.Values{
				"response_type": {"id_token token"},
				"scope":         {"openid profile"},
				"prompt":        {"none"},
				"login_hint":    {"alice@example.com"},
				"ui_locales":    {"fr-CA en"},
			},
			wantNonce: true,
		},
		{
			name:      "bad-response-type",
			opts:      []Option{WithResponseType("magic")},
			wantErr:   true,
			wantIsErr: ErrInvalidResponseType,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			c := testConfig()
			if tt.modify != nil {
				tt.modify(c)
			}
			store, err := storage.NewMemory("capauth.provider.test")
			require.NoError(err)
			p := newTestProvider(t, c, WithStore(store))

			got, err := p.BuildAuthorizationURL(tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.Empty(store.Get(keyState, ""))
				return
			}
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			assert.Equal("idp.example.com", u.Host)
			q := u.Query()
			for k := range tt.want {
				assert.Equalf(tt.want.Get(k), q.Get(k), "parameter %s", k)
			}
			assert.NotEmpty(q.Get("state"))
			assert.Equal(q.Get("state"), store.Get(keyState, ""))
			assert.Equal(q.Get("response_type"), store.Get(keyResponse, ""))
			if tt.wantNonce {
				assert.NotEmpty(q.Get("nonce"))
				assert.Equal(q.Get("nonce"), store.Get(keyNonce, ""))
			} else {
				assert.Empty(q.Get("nonce"))
			}
		})
	}
}

func TestProvider_BuildAuthorizationURL_FreshValues(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	p := newTestProvider(t, testConfig())

	first, err := p.BuildAuthorizationURL()
	require.NoError(err)
	second, err := p.BuildAuthorizationURL()
	require.NoError(err)

	u1, err := url.Parse(first)
	require.NoError(err)
	u2, err := url.Parse(second)
	require.NoError(err)
	assert.NotEqual(u1.Query().Get("state"), u2.Query().Get("state"))
	assert.NotEqual(u1.Query().Get("nonce"), u2.Query().Get("nonce"))

	// only the latest request can be answered
	a := p.pendingAttempt()
	assert.Equal(u2.Query().Get("state"), a.state)
}
