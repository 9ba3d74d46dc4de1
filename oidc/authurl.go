// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/urlutil"
	"golang.org/x/oauth2"
)

// BuildAuthorizationURL generates a URL the caller can use to start an
// authorization request. Every call generates and persists new state and,
// for openid providers or id_token responses, a new nonce.
// Supported options: WithResponseType, WithScope, WithPrompt,
// WithUILocales, WithLoginHint
func (p *Provider) BuildAuthorizationURL(opt ...Option) (string, error) {
	const op = "oidc.(Provider).BuildAuthorizationURL"
	opts := getAuthURLOpts(opt...)
	rt := p.config.ResponseType
	if opts.withResponseType != "" {
		if err := validResponseType(opts.withResponseType); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		rt = opts.withResponseType
	}
	scope := p.config.Scope
	if opts.withScope != "" {
		scope = opts.withScope
	}

	withNonce := p.config.Kind == KindOpenID || hasResponseType(rt, ResponseTypeIDToken)
	a, err := p.newAttempt(rt, withNonce)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	oauth2Config := oauth2.Config{
		ClientID:    p.config.ClientID,
		RedirectURL: p.RedirectURL(handler.ActionLogin),
		Endpoint:    oauth2.Endpoint{AuthURL: p.authURL},
		Scopes:      strings.Fields(scope),
	}
	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", rt),
	}
	if a.nonce != "" {
		authOpts = append(authOpts, oidc.Nonce(a.nonce))
	}
	if p.config.ResponseMode != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("response_mode", p.config.ResponseMode))
	}
	if opts.withPrompt != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", opts.withPrompt))
	}
	if opts.withLoginHint != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("login_hint", opts.withLoginHint))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, tag := range opts.withUILocales {
			locales = append(locales, tag.String())
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	return oauth2Config.AuthCodeURL(a.state, authOpts...), nil
}

// LogoutURL returns the logout endpoint with the client id, the logout
// redirect URL and, for openid providers, the current id_token as a hint.
func (p *Provider) LogoutURL() (string, error) {
	const op = "oidc.(Provider).LogoutURL"
	if p.logoutURL == "" {
		return "", fmt.Errorf("%s: no logout endpoint configured or discovered: %w", op, ErrInvalidParameter)
	}
	params := url.Values{
		"client_id":                {p.config.ClientID},
		"post_logout_redirect_uri": {p.RedirectURL(handler.ActionLogout)},
	}
	if p.config.Kind == KindOpenID {
		params.Set("id_token_hint", p.IDToken().Raw())
	}
	u, err := urlutil.WithParams(p.logoutURL, params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
