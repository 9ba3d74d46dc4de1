// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrUnknownAction    = errors.New("unknown action")
	ErrInvalidProvider  = errors.New("invalid provider")
	ErrInvalidHandler   = errors.New("invalid handler")
	ErrAutoUnsupported  = errors.New("default handler does not support automatic authentication")
	ErrDuplicateName    = errors.New("duplicate name")
	ErrLoginRequired    = errors.New("login required")
)
