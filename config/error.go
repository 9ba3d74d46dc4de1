// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrMissingHost is returned when a handler needs a hosting
	// environment capability that was not supplied.
	ErrMissingHost = errors.New("missing host capability")
)
