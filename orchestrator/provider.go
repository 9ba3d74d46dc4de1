// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"

	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/urlutil"
)

// Provider is the protocol side of an identity provider as the Orchestrator
// drives it.
type Provider interface {
	Name() string
	Endpoints() urlutil.Patterns
	Routes() urlutil.Patterns
	RedirectURL(action handler.Action) string

	BuildAuthorizationURL(opt ...oidc.Option) (string, error)
	LogoutURL() (string, error)
	Validate(ctx context.Context, params handler.Params) (*oidc.LoginPayload, error)
	Secure(ctx context.Context, req interface{}) (oidc.Decision, error)

	// FailLogin and FinishLogout end attempts that did not reach
	// Validate.
	FailLogin(err error)
	FinishLogout(err error) error

	OnLogin(fn oidc.LoginListener) (remove func())
	OnLogout(fn oidc.LogoutListener) (remove func())

	Connected(ctx context.Context)
	Done()
}

// ensure that oidc.Provider implements the Provider interface
var _ Provider = (*oidc.Provider)(nil)
