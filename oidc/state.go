// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/capauth/sdk/id"
	"github.com/hashicorp/go-multierror"
)

// store keys
const (
	keyState       = "state"
	keyNonce       = "nonce"
	keyResponse    = "response-type"
	keyIDToken     = "id-token.raw"
	keyAccessToken = "access-token.raw"
	keyAccessExp   = "access-token.expiration"
)

// attempt is the anti-replay state of one authorization request. The state
// value is echoed back by the provider. The nonce, when present, must
// reappear in the id_token.
type attempt struct {
	state        string
	nonce        string
	responseType string
}

// newAttempt generates and persists fresh anti-replay values for an
// authorization request. Any previous attempt is replaced.
func (p *Provider) newAttempt(responseType string, withNonce bool) (*attempt, error) {
	const op = "oidc.(Provider).newAttempt"
	state, err := id.New(p.config.Name + "-state")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state: %w: %s", op, ErrIdGeneratorFailed, err)
	}
	a := &attempt{state: state, responseType: responseType}
	if withNonce {
		if a.nonce, err = id.New(p.config.Name + "-nonce"); err != nil {
			return nil, fmt.Errorf("%s: unable to generate nonce: %w: %s", op, ErrIdGeneratorFailed, err)
		}
	}
	for _, kv := range [][2]string{{keyState, a.state}, {keyNonce, a.nonce}, {keyResponse, a.responseType}} {
		if err := p.store.Set(kv[0], kv[1]); err != nil {
			p.clearAttempt()
			return nil, fmt.Errorf("%s: unable to persist %s: %w", op, kv[0], err)
		}
	}
	return a, nil
}

// pendingAttempt reads the persisted anti-replay values.
func (p *Provider) pendingAttempt() *attempt {
	return &attempt{
		state:        p.store.Get(keyState, ""),
		nonce:        p.store.Get(keyNonce, ""),
		responseType: p.store.Get(keyResponse, ""),
	}
}

// clearAttempt removes the persisted anti-replay values. Failures are
// logged.
func (p *Provider) clearAttempt() {
	var result *multierror.Error
	for _, k := range []string{keyState, keyNonce, keyResponse} {
		if err := p.store.Set(k, ""); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		p.logger.Warn("unable to clear anti-replay state", "error", err)
	}
}
