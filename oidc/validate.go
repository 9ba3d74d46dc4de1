// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/capauth/handler"
)

// Validate checks the response parameters of the pending authorization
// request against the persisted anti-replay state and stores the resulting
// tokens.
//
// The response is interpreted according to the response type persisted when
// the request was built, not whatever the response happens to contain. The
// anti-replay state is cleared on every outcome, and every outcome is
// delivered to the login listeners as well as returned.
func (p *Provider) Validate(ctx context.Context, params handler.Params) (*LoginPayload, error) {
	const op = "oidc.(Provider).Validate"
	payload, err := p.validate(ctx, params)
	p.clearAttempt()
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		p.logger.Debug("validation failed", "error", err)
	}
	p.emitLogin(err, payload)
	return payload, err
}

func (p *Provider) validate(ctx context.Context, params handler.Params) (*LoginPayload, error) {
	if code := params["error"]; code != "" {
		return nil, &AuthError{
			Code:        code,
			Description: params["error_description"],
			URI:         params["error_uri"],
		}
	}

	pending := p.pendingAttempt()
	if err := validResponseType(pending.responseType); err != nil {
		return nil, err
	}
	if pending.state == "" || params["state"] != pending.state {
		return nil, fmt.Errorf("response state does not match the request: %w", ErrInvalidState)
	}

	payload := &LoginPayload{}
	if hasResponseType(pending.responseType, ResponseTypeIDToken) {
		t, err := ParseIDToken(params["id_token"])
		if err != nil {
			return nil, err
		}
		if pending.nonce == "" || t.Nonce() != pending.nonce {
			return nil, fmt.Errorf("id_token nonce does not match the request: %w", ErrInvalidNonce)
		}
		if p.keySet != nil {
			if _, err := p.keySet.VerifySignature(ctx, t.Raw()); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidIdToken, err)
			}
		}
		payload.IDToken = t
	}
	if hasResponseType(pending.responseType, ResponseTypeToken) {
		raw := params["access_token"]
		if raw == "" {
			return nil, fmt.Errorf("access_token is missing: %w", ErrInvalidParameter)
		}
		var expiry time.Time
		if s := strings.TrimSpace(params["expires_in"]); s != "" {
			secs, err := strconv.ParseInt(s, 10, 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("expires_in %q is not a number of seconds: %w", s, ErrInvalidParameter)
			}
			expiry = p.now().Add(time.Duration(secs) * time.Second)
		}
		payload.AccessToken = NewAccessToken(raw, expiry)
	}
	if hasResponseType(pending.responseType, ResponseTypeCode) {
		payload.Code = params["code"]
		if payload.Code == "" {
			return nil, fmt.Errorf("code is missing: %w", ErrInvalidParameter)
		}
	}

	if err := p.persist(payload.IDToken, payload.AccessToken); err != nil {
		return nil, err
	}
	return payload, nil
}
