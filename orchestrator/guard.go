// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/urlutil"
)

// MaxGuardAttempts bounds the interactive logins a single Guard or request
// may trigger for one provider.
const MaxGuardAttempts = 3

func (o *Orchestrator) origin() string {
	if o.location == nil {
		return ""
	}
	return urlutil.Origin(o.location.URL())
}

// secureRequest lets every provider whose endpoints match dest secure req,
// in registration order. A provider that needs a login which the default
// handler cannot run unattended leaves the request as is.
func (o *Orchestrator) secureRequest(ctx context.Context, dest string, req interface{}) error {
	const op = "orchestrator.(Orchestrator).secureRequest"
	origin := o.origin()
	for _, p := range o.providers {
		if !urlutil.Match(dest, origin, p.Endpoints()) {
			continue
		}
		err := o.secure(ctx, p, req)
		switch {
		case err == nil:
		case errors.Is(err, ErrAutoUnsupported):
			o.logger.Debug("sending request without credentials", "provider", p.Name(), "url", dest)
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// secure calls p.Secure until it is satisfied, logging in with the default
// handler whenever a login is required.
func (o *Orchestrator) secure(ctx context.Context, p Provider, req interface{}) error {
	const op = "orchestrator.(Orchestrator).secure"
	for attempt := 0; ; attempt++ {
		decision, err := p.Secure(ctx, req)
		if err != nil {
			o.metrics.secures.WithLabelValues(p.Name(), resultError).Inc()
			return fmt.Errorf("%s: %w", op, err)
		}
		o.metrics.secures.WithLabelValues(p.Name(), string(decision)).Inc()
		if decision == oidc.Secured {
			return nil
		}
		h, err := o.Handler("")
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !h.Auto() {
			return fmt.Errorf("%s: %q: %w", op, h.Name(), ErrAutoUnsupported)
		}
		if attempt >= MaxGuardAttempts {
			return fmt.Errorf("%s: %s still requires a login after %d attempts: %w", op, p.Name(), attempt, ErrLoginRequired)
		}
		if _, err := o.Login(ctx, p.Name(), WithHandler(h.Name())); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

// Guard makes sure every provider whose routes match the current location
// has a valid session, renewing unattended or logging in with the default
// handler. It fails with ErrAutoUnsupported when a login is needed and the
// default handler needs a user gesture.
func (o *Orchestrator) Guard(ctx context.Context) error {
	const op = "orchestrator.(Orchestrator).Guard"
	if o.location == nil {
		return nil
	}
	current, origin := o.location.URL(), o.origin()
	for _, p := range o.providers {
		if !urlutil.Match(current, origin, p.Routes()) {
			continue
		}
		if err := o.secure(ctx, p, nil); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// routeChanged runs Guard in the background for the new location.
func (o *Orchestrator) routeChanged() {
	o.guardsMu.Lock()
	defer o.guardsMu.Unlock()
	if o.stopped {
		return
	}
	o.guards.Add(1)
	go func() {
		defer o.guards.Done()
		if err := o.Guard(o.backgroundCtx); err != nil {
			o.logger.Warn("route guard failed", "error", err)
		}
	}()
}
