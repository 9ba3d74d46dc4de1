// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package host defines the contracts the authentication engine needs from
// its hosting environment: the current location, top level navigation,
// secondary windows, hidden frames and route change notifications.
//
// A browser binding implements these over the document, while a CLI process
// typically supplies only a Location (see Static).
package host

import (
	"context"
	"errors"
)

// ErrCrossOrigin is returned by Window.Location and Frame.Location while the
// viewed document belongs to a different origin and cannot be inspected.
var ErrCrossOrigin = errors.New("cross origin location")

// Location reports the URL of the current document.
type Location interface {
	URL() string
}

// Navigator is a Location that can be moved. Navigate pushes a new entry,
// Replace swaps the current one.
type Navigator interface {
	Location
	Navigate(url string) error
	Replace(url string) error
}

// Window is a secondary top level browsing context (a popup or tab).
type Window interface {
	Location() (string, error)
	Closed() bool
	Close() error
}

// WindowOpener opens secondary windows. A nil Window with a nil error means
// the environment blocked the window.
type WindowOpener interface {
	Open(url, target, features string) (Window, error)
}

// Frame is an embedded browsing context.
type Frame interface {
	Location() (string, error)
	Remove() error
}

// FrameLoader embeds url into the current document.
type FrameLoader interface {
	LoadFrame(ctx context.Context, url string, visible bool) (Frame, error)
}

// RouteNotifier calls fn on every route or location change until the
// returned function is invoked.
type RouteNotifier interface {
	OnRouteChange(fn func()) (unsubscribe func())
}

// Static is a fixed Location.
type Static string

// URL implements Location.
func (s Static) URL() string { return string(s) }
