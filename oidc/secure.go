// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/capauth/handler"
)

// Decision is the outcome of Secure.
type Decision string

const (
	// Secured means the request may proceed: a valid token is attached, or
	// none is needed.
	Secured Decision = "secured"

	// LoginRequired means an interactive login has to happen first.
	LoginRequired Decision = "login"
)

// HeaderSetter is an XHR style request handle.
type HeaderSetter interface {
	SetRequestHeader(key, value string)
}

// Secure decides whether a request, or with a nil req the current route,
// can proceed with the provider's current tokens. req may be nil, an
// *http.Request or a HeaderSetter.
//
// An ID token is required when an id_token is requested, and an access
// token only when the response type includes "token". An expired access
// token is renewed unattended when renewal is automatic and a renewer is
// configured. Concurrent callers share one renewal, which
// runs under the first caller's context. On Secured a single
// "Authorization: Bearer" header is set on req.
func (p *Provider) Secure(ctx context.Context, req interface{}) (Decision, error) {
	const op = "oidc.(Provider).Secure"
	var setHeader func(k, v string)
	switch r := req.(type) {
	case nil:
	case *http.Request:
		if r != nil {
			setHeader = r.Header.Set
		}
	case HeaderSetter:
		setHeader = r.SetRequestHeader
	default:
		return "", fmt.Errorf("%s: %T: %w", op, req, ErrUnknownRequestType)
	}

	if p.config.ResponseType == ResponseTypeCode {
		return Secured, nil
	}

	skew := []Option{WithExpirySkew(p.config.Renewal.Buffer), WithNow(p.now)}
	if p.config.Kind == KindOpenID && hasResponseType(p.config.ResponseType, ResponseTypeIDToken) && p.IDToken().Expired(skew...) {
		return LoginRequired, nil
	}

	if !hasResponseType(p.config.ResponseType, ResponseTypeToken) {
		return Secured, nil
	}

	at := p.AccessToken()
	if at.Expired(skew...) {
		if p.config.Renewal.Type != RenewalAuto || p.renewer == nil {
			return LoginRequired, nil
		}
		if err := p.Renew(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("%s: %w", op, ctxErr)
			}
			p.logger.Debug("unattended renewal failed", "error", err)
			return LoginRequired, nil
		}
		if at = p.AccessToken(); at.Expired(skew...) {
			return LoginRequired, nil
		}
	}
	if setHeader != nil {
		setHeader("Authorization", "Bearer "+at.Raw())
	}
	return Secured, nil
}

// Renew requests a new access token through the renewer without user
// interaction. Concurrent calls share a single round trip.
func (p *Provider) Renew(ctx context.Context) error {
	const op = "oidc.(Provider).Renew"
	if p.renewer == nil {
		return fmt.Errorf("%s: no renewer configured: %w", op, ErrRenewalFailed)
	}
	_, err, shared := p.renewals.Do("renew", func() (interface{}, error) {
		u, err := p.BuildAuthorizationURL(WithPrompt("none"), WithResponseType(ResponseTypeToken))
		if err != nil {
			return nil, err
		}
		openCtx := ctx
		if p.config.Renewal.Timeout > 0 {
			var cancel context.CancelFunc
			openCtx, cancel = context.WithTimeout(ctx, p.config.Renewal.Timeout)
			defer cancel()
		}
		p.logger.Debug("renewing access token", "renewer", p.renewer.Name())
		params, err := p.renewer.Open(openCtx, handler.Request{URL: u, RedirectURL: p.RedirectURL(handler.ActionLogin)})
		if err != nil {
			p.clearAttempt()
			return nil, err
		}
		_, err = p.Validate(ctx, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrRenewalFailed, err)
	}
	if shared {
		p.logger.Trace("joined in-flight renewal")
	}
	return nil
}

// Connected starts renewing the access token in the background, Buffer
// before it expires, when renewal is automatic. It runs until ctx is done or
// Done is called. Calling it more than once has no further effect.
func (p *Provider) Connected(ctx context.Context) {
	if p.config.Renewal.Type != RenewalAuto || p.renewer == nil {
		return
	}
	p.connected.Do(func() {
		go p.renewLoop(ctx)
	})
}

func (p *Provider) renewLoop(ctx context.Context) {
	var failed string
	for {
		var fire <-chan time.Time
		var timer *time.Timer
		if at := p.AccessToken(); at != nil && !at.Expiry().IsZero() && at.Raw() != failed {
			d := at.Expiry().Sub(p.now()) - p.config.Renewal.Buffer
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
		case <-p.backgroundCtx.Done():
		case <-p.changed:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-fire:
			raw := p.AccessToken().Raw()
			if err := p.Renew(p.backgroundCtx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				p.logger.Warn("scheduled renewal failed", "error", err)
				failed = raw
			}
			continue
		}
		if timer != nil {
			timer.Stop()
		}
		return
	}
}
