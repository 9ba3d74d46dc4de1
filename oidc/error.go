// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrNilParameter        = errors.New("nil parameter")
	ErrInvalidCACert       = errors.New("invalid CA certificate")
	ErrInvalidIssuer       = errors.New("invalid issuer")
	ErrIdGeneratorFailed   = errors.New("id generation failed")
	ErrInvalidResponseType = errors.New("invalid response type")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrInvalidIdToken      = errors.New("invalid id_token")
	ErrUnknownRequestType  = errors.New("unknown request type")
	ErrAuthorizationFailed = errors.New("authorization failed")
	ErrRenewalFailed       = errors.New("renewal failed")
)

// AuthError is an error response returned by the identity provider in place
// of a token or code.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthError struct {
	Code        string
	Description string
	URI         string
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrAuthorizationFailed, e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// Unwrap returns ErrAuthorizationFailed.
func (e *AuthError) Unwrap() error { return ErrAuthorizationFailed }
