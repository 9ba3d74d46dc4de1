// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNavigated is returned by handlers that leave the current document.
	// The flow completes in a later process via Connected.
	ErrNavigated = errors.New("navigated away")

	ErrPopupBlocked    = errors.New("popup blocked")
	ErrUserCancelled   = errors.New("user cancelled")
	ErrHandlerBusy     = errors.New("handler busy")
	ErrIframeTimeout   = errors.New("iframe timed out")
	ErrCallbackTimeout = errors.New("callback timed out")

	// ErrUnexpectedState is reported to the browser when a loopback callback
	// does not answer the pending request. The handler keeps waiting.
	ErrUnexpectedState = errors.New("unexpected state")
)
