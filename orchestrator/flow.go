// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/go-multierror"
)

// record is a pending flow read back from the continuation record.
type record struct {
	action   handler.Action
	provider Provider
	handler  handler.Handler
}

// readRecord returns nil when no flow is pending. A record naming an
// unknown provider or handler is logged and ignored.
func (o *Orchestrator) readRecord() (*record, error) {
	const op = "orchestrator.(Orchestrator).readRecord"
	action := handler.Action(o.store.Get(keyAction, ""))
	if !action.Valid() {
		return nil, fmt.Errorf("%s: unable to finish flow with action %q: %w", op, action, ErrUnknownAction)
	}
	if action == handler.ActionNone {
		return nil, nil
	}
	pName, hName := o.store.Get(keyProvider, ""), o.store.Get(keyHandler, "")
	p, err := o.Provider(pName)
	if err != nil {
		o.logger.Warn("ignoring pending flow", "action", action, "error", err)
		return nil, nil
	}
	if hName == "" {
		o.logger.Warn("ignoring pending flow without a handler", "action", action, "provider", pName)
		return nil, nil
	}
	h, err := o.Handler(hName)
	if err != nil {
		o.logger.Warn("ignoring pending flow", "action", action, "error", err)
		return nil, nil
	}
	return &record{action: action, provider: p, handler: h}, nil
}

// setRecord writes the continuation record. It must complete before the
// handler is opened.
func (o *Orchestrator) setRecord(action handler.Action, p Provider, h handler.Handler) error {
	const op = "orchestrator.(Orchestrator).setRecord"
	for _, kv := range [][2]string{{keyAction, string(action)}, {keyProvider, p.Name()}, {keyHandler, h.Name()}} {
		if err := o.store.Set(kv[0], kv[1]); err != nil {
			o.clearRecord()
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (o *Orchestrator) clearRecord() {
	var result *multierror.Error
	for _, k := range []string{keyAction, keyProvider, keyHandler} {
		if err := o.store.Set(k, ""); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		o.logger.Warn("unable to clear continuation record", "error", err)
	}
}

func (o *Orchestrator) resolve(providerName string, opts flowOptions) (Provider, handler.Handler, error) {
	p, err := o.Provider(providerName)
	if err != nil {
		return nil, nil, err
	}
	h, err := o.Handler(opts.withHandler)
	if err != nil {
		return nil, nil, err
	}
	return p, h, nil
}

// Login runs an interactive login with the named provider through the
// handler selected by WithHandler, or the default handler. Concurrent calls
// for the same provider and handler share one attempt, which runs under the
// first caller's ctx.
//
// A redirect class handler returns an error wrapping handler.ErrNavigated:
// the flow finishes in the process that loads the redirect URL.
// Supported options: WithHandler, WithAuthorizationOptions
func (o *Orchestrator) Login(ctx context.Context, providerName string, opt ...Option) (*oidc.LoginPayload, error) {
	const op = "orchestrator.(Orchestrator).Login"
	opts := getFlowOpts(opt...)
	p, h, err := o.resolve(providerName, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v, err, shared := o.flights.Do("login:"+p.Name()+":"+h.Name(), func() (interface{}, error) {
		payload, err := o.login(ctx, p, h, opts.withAuthOpts)
		o.metrics.logins.WithLabelValues(p.Name(), h.Name(), result(err)).Inc()
		return payload, err
	})
	if shared {
		o.logger.Debug("joined in-flight login", "provider", p.Name(), "handler", h.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v.(*oidc.LoginPayload), nil
}

func (o *Orchestrator) login(ctx context.Context, p Provider, h handler.Handler, authOpts []oidc.Option) (*oidc.LoginPayload, error) {
	if err := o.setRecord(handler.ActionLogin, p, h); err != nil {
		p.FailLogin(err)
		return nil, err
	}
	u, err := p.BuildAuthorizationURL(authOpts...)
	if err != nil {
		o.clearRecord()
		p.FailLogin(err)
		return nil, err
	}
	o.logger.Debug("opening login", "provider", p.Name(), "handler", h.Name())
	params, err := h.Open(ctx, handler.Request{URL: u, RedirectURL: p.RedirectURL(handler.ActionLogin)})
	if errors.Is(err, handler.ErrNavigated) {
		return nil, err
	}
	defer o.clearRecord()
	if err != nil {
		p.FailLogin(err)
		return nil, err
	}
	return p.Validate(ctx, params)
}

// Logout ends the session with the named provider through the selected
// handler. On success the provider's tokens are reset; either way logout
// listeners are notified. Concurrent calls for the same provider and
// handler share one attempt.
// Supported options: WithHandler
func (o *Orchestrator) Logout(ctx context.Context, providerName string, opt ...Option) error {
	const op = "orchestrator.(Orchestrator).Logout"
	opts := getFlowOpts(opt...)
	p, h, err := o.resolve(providerName, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err, _ = o.flights.Do("logout:"+p.Name()+":"+h.Name(), func() (interface{}, error) {
		err := o.logout(ctx, p, h)
		o.metrics.logouts.WithLabelValues(p.Name(), h.Name(), result(err)).Inc()
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (o *Orchestrator) logout(ctx context.Context, p Provider, h handler.Handler) error {
	if err := o.setRecord(handler.ActionLogout, p, h); err != nil {
		return p.FinishLogout(err)
	}
	u, err := p.LogoutURL()
	if err != nil {
		o.clearRecord()
		return p.FinishLogout(err)
	}
	o.logger.Debug("opening logout", "provider", p.Name(), "handler", h.Name())
	_, err = h.Open(ctx, handler.Request{URL: u, RedirectURL: p.RedirectURL(handler.ActionLogout)})
	if errors.Is(err, handler.ErrNavigated) {
		return err
	}
	defer o.clearRecord()
	return p.FinishLogout(err)
}

// connect notifies providers, then handlers, in registration order and
// resumes the pending flow through the handler that owns it.
func (o *Orchestrator) connect(ctx context.Context, pending *record) {
	defer close(o.ready)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.backgroundCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, p := range o.providers {
		p.Connected(o.backgroundCtx)
	}
	for _, h := range o.handlers {
		req := handler.ConnectedRequest{}
		responsible := pending != nil && pending.handler == h
		if responsible {
			req.Action = pending.action
		}
		params, err := h.Connected(ctx, req)
		if !responsible {
			if err != nil {
				o.logger.Warn("handler connected notification failed", "handler", h.Name(), "error", err)
			}
			continue
		}
		o.resume(ctx, pending, params, err)
	}
}

func (o *Orchestrator) resume(ctx context.Context, pending *record, params handler.Params, err error) {
	p := pending.provider
	o.logger.Debug("resuming flow", "action", pending.action, "provider", p.Name(), "handler", pending.handler.Name())
	switch pending.action {
	case handler.ActionLogin:
		if err != nil {
			p.FailLogin(err)
		} else {
			_, err = p.Validate(ctx, params)
		}
	case handler.ActionLogout:
		err = p.FinishLogout(err)
	}
	if err != nil {
		o.logger.Warn("resumed flow failed", "action", pending.action, "provider", p.Name(), "error", err)
	}
	o.metrics.resumes.WithLabelValues(p.Name(), string(pending.action), result(err)).Inc()
}
