// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"sync"
	"testing"

	"github.com/hashicorp/capauth/urlutil"
)

// TestBrowser is an in-memory hosting environment for tests. It implements
// Navigator, WindowOpener, FrameLoader and RouteNotifier and is safe for
// concurrent use.
//
// Windows and frames start at the URL they were opened with. When a
// responder is set it is called with that URL and its result becomes the
// landing URL; an empty result closes a window (the user dismissed it).
type TestBrowser struct {
	t  testing.TB
	mu sync.Mutex

	url         string
	navigations []string
	blockPopups bool
	responder   func(requested string) string

	windows []*TestWindow
	frames  []*TestFrame

	nextSub int
	subs    map[int]func()
}

// ensure that TestBrowser implements the host interfaces
var (
	_ Navigator     = (*TestBrowser)(nil)
	_ WindowOpener  = (*TestBrowser)(nil)
	_ FrameLoader   = (*TestBrowser)(nil)
	_ RouteNotifier = (*TestBrowser)(nil)
)

// NewTestBrowser creates a TestBrowser whose current document is startURL.
// Open windows are closed when the test completes.
func NewTestBrowser(t testing.TB, startURL string) *TestBrowser {
	t.Helper()
	b := &TestBrowser{
		t:    t,
		url:  startURL,
		subs: map[int]func(){},
	}
	t.Cleanup(func() {
		for _, w := range b.Windows() {
			_ = w.Close()
		}
	})
	return b
}

// URL implements Location.
func (b *TestBrowser) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// SetURL changes the current document without recording a navigation or
// notifying route listeners, as a full reload would.
func (b *TestBrowser) SetURL(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = u
}

// Navigate implements Navigator. The URL is recorded; the current document
// does not change until the test calls SetURL, mirroring a page unload.
func (b *TestBrowser) Navigate(u string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigations = append(b.navigations, u)
	return nil
}

// Replace implements Navigator.
func (b *TestBrowser) Replace(u string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = u
	return nil
}

// Navigations returns the URLs passed to Navigate, oldest first.
func (b *TestBrowser) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigations...)
}

// BlockPopups makes Open report a blocked window.
func (b *TestBrowser) BlockPopups(block bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockPopups = block
}

// SetResponder installs fn to pick the landing URL of windows and frames.
func (b *TestBrowser) SetResponder(fn func(requested string) string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responder = fn
}

func (b *TestBrowser) land(requested string) (string, bool) {
	b.mu.Lock()
	fn := b.responder
	b.mu.Unlock()
	if fn == nil {
		return requested, true
	}
	landing := fn(requested)
	return landing, landing != ""
}

// Open implements WindowOpener.
func (b *TestBrowser) Open(u, target, features string) (Window, error) {
	b.mu.Lock()
	blocked := b.blockPopups
	b.mu.Unlock()
	if blocked {
		return nil, nil
	}
	w := &TestWindow{browser: b, requested: u, target: target, features: features, url: u}
	if landing, ok := b.land(u); ok {
		w.url = landing
	} else {
		w.closed = true
	}
	b.mu.Lock()
	b.windows = append(b.windows, w)
	b.mu.Unlock()
	return w, nil
}

// Windows returns every window opened so far.
func (b *TestBrowser) Windows() []*TestWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*TestWindow(nil), b.windows...)
}

// LoadFrame implements FrameLoader.
func (b *TestBrowser) LoadFrame(_ context.Context, u string, visible bool) (Frame, error) {
	f := &TestFrame{browser: b, requested: u, visible: visible, url: u}
	if landing, ok := b.land(u); ok {
		f.url = landing
	}
	b.mu.Lock()
	b.frames = append(b.frames, f)
	b.mu.Unlock()
	return f, nil
}

// Frames returns every frame loaded so far.
func (b *TestBrowser) Frames() []*TestFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*TestFrame(nil), b.frames...)
}

// OnRouteChange implements RouteNotifier.
func (b *TestBrowser) OnRouteChange(fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// ChangeRoute moves the current document to u and synchronously notifies
// route listeners.
func (b *TestBrowser) ChangeRoute(u string) {
	b.mu.Lock()
	b.url = u
	subs := make([]func(), 0, len(b.subs))
	for i := 0; i < b.nextSub; i++ {
		if fn, ok := b.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// RouteListeners returns the number of active route subscriptions.
func (b *TestBrowser) RouteListeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *TestBrowser) sameOrigin(u string) bool {
	return urlutil.Origin(u) == urlutil.Origin(b.URL())
}

// TestWindow is a Window opened by a TestBrowser.
type TestWindow struct {
	browser   *TestBrowser
	requested string
	target    string
	features  string

	mu     sync.Mutex
	url    string
	closed bool
}

// Requested returns the URL the window was opened with.
func (w *TestWindow) Requested() string { return w.requested }

// Target returns the window target name.
func (w *TestWindow) Target() string { return w.target }

// Features returns the window feature string.
func (w *TestWindow) Features() string { return w.features }

// Location implements Window.
func (w *TestWindow) Location() (string, error) {
	w.mu.Lock()
	u := w.url
	w.mu.Unlock()
	if !w.browser.sameOrigin(u) {
		return "", ErrCrossOrigin
	}
	return u, nil
}

// SetURL navigates the window.
func (w *TestWindow) SetURL(u string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.url = u
}

// Closed implements Window.
func (w *TestWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close implements Window.
func (w *TestWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// TestFrame is a Frame loaded by a TestBrowser.
type TestFrame struct {
	browser   *TestBrowser
	requested string
	visible   bool

	mu      sync.Mutex
	url     string
	removed bool
}

// Requested returns the URL the frame was loaded with.
func (f *TestFrame) Requested() string { return f.requested }

// Visible reports whether the frame was requested visible.
func (f *TestFrame) Visible() bool { return f.visible }

// Location implements Frame.
func (f *TestFrame) Location() (string, error) {
	f.mu.Lock()
	u := f.url
	f.mu.Unlock()
	if !f.browser.sameOrigin(u) {
		return "", ErrCrossOrigin
	}
	return u, nil
}

// SetURL navigates the frame.
func (f *TestFrame) SetURL(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = u
}

// Remove implements Frame.
func (f *TestFrame) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
	return nil
}

// Removed reports whether Remove was called.
func (f *TestFrame) Removed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed
}
