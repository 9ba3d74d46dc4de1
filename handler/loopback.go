// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/browser"
)

// DefaultLoopbackTimeout bounds how long Loopback waits for the callback.
const DefaultLoopbackTimeout = 5 * time.Minute

//go:embed templates/relay.html
var relayHTML string

//go:embed templates/done.html
var doneHTML string

var doneTmpl = template.Must(template.New("done").Parse(doneHTML))

// SuccessResponseFunc writes the browser's response once Loopback received
// the parameters for the pending request.
type SuccessResponseFunc func(state string, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc writes the browser's response when the callback carries
// an error response from the provider (respErr) or was rejected by Loopback
// (e).
type ErrorResponseFunc func(state string, respErr *AuthErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthErrorResponse is an OAuth2 error response. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthErrorResponse struct {
	Error       string
	Description string
	URI         string
}

// Loopback completes the round trip in the system browser and receives the
// response on a local listener bound to the redirect URL's host and port.
//
// Query responses are read directly. Fragment responses never reach the
// server, so the callback path first serves a small page which posts the
// fragment back to the same path. form_post responses are read from the
// body. Callbacks whose state does not match the request are answered with
// ErrUnexpectedState and otherwise ignored.
type Loopback struct {
	base
	openURL   func(string) error
	successFn SuccessResponseFunc
	errorFn   ErrorResponseFunc

	mu   sync.Mutex
	busy bool
}

// ensure that Loopback implements the Handler interface
var _ Handler = (*Loopback)(nil)

// NewLoopback creates a Loopback handler.
// Supported options: WithName, WithDefault, WithTimeout, WithLogger,
// WithBrowserOpener, WithSuccessResponse, WithErrorResponse
func NewLoopback(opt ...Option) (*Loopback, error) {
	opts := getOpts("loopback", DefaultLoopbackTimeout, opt...)
	l := &Loopback{
		base:      newBase(opts),
		openURL:   opts.withBrowserOpener,
		successFn: opts.withSuccessResponse,
		errorFn:   opts.withErrorResponse,
	}
	if l.openURL == nil {
		l.openURL = browser.OpenURL
	}
	if l.successFn == nil {
		l.successFn = SuccessResponse
	}
	if l.errorFn == nil {
		l.errorFn = ErrorResponse
	}
	return l, nil
}

// Auto implements Handler. The browser needs a person in front of it.
func (l *Loopback) Auto() bool { return false }

// Open implements Handler.
func (l *Loopback) Open(ctx context.Context, req Request) (Params, error) {
	const op = "handler.(Loopback).Open"
	if req.URL == "" {
		return nil, fmt.Errorf("%s: url is empty: %w", op, ErrInvalidParameter)
	}
	authURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse url: %w", op, ErrInvalidParameter)
	}
	redirect, err := url.Parse(req.RedirectURL)
	if err != nil || redirect.Scheme != "http" || redirect.Host == "" {
		return nil, fmt.Errorf("%s: redirect url %q must be an absolute http url: %w", op, req.RedirectURL, ErrInvalidParameter)
	}
	if redirect.Port() == "" || redirect.Port() == "0" {
		return nil, fmt.Errorf("%s: redirect url %q must carry a fixed port: %w", op, req.RedirectURL, ErrInvalidParameter)
	}

	l.mu.Lock()
	if l.busy {
		l.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrHandlerBusy)
	}
	l.busy = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.busy = false
		l.mu.Unlock()
	}()

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to listen on %s: %w", op, redirect.Host, err)
	}
	cb := &callback{
		state:     authURL.Query().Get("state"),
		successFn: l.successFn,
		errorFn:   l.errorFn,
		results:   make(chan Params, 1),
		errs:      make(chan error, 1),
	}
	shutdown := cb.serve(listener, callbackPath(redirect))
	defer shutdown()

	l.logger.Info("opening browser", "url", req.URL)
	if err := l.openURL(req.URL); err != nil {
		l.logger.Warn("unable to open browser, visit the url manually", "url", req.URL, "error", err)
	}

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	select {
	case p := <-cb.results:
		return p, nil
	case err := <-cb.errs:
		return nil, fmt.Errorf("%s: callback server failed: %w", op, err)
	case <-waitCtx.Done():
		if ctx.Err() == nil {
			return nil, fmt.Errorf("%s: no callback after %s: %w", op, l.timeout, ErrCallbackTimeout)
		}
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func callbackPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// callback accepts the single response answering state.
type callback struct {
	state     string
	successFn SuccessResponseFunc
	errorFn   ErrorResponseFunc

	mu      sync.Mutex
	done    bool
	results chan Params
	errs    chan error
}

func (c *callback) serve(listener net.Listener, path string) func() {
	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handle)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case c.errs <- err:
			default:
			}
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (c *callback) handle(w http.ResponseWriter, r *http.Request) {
	const op = "handler.(callback).handle"
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	var values url.Values
	switch r.Method {
	case http.MethodGet:
		if r.URL.RawQuery == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(relayHTML))
			return
		}
		values = r.URL.Query()
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			c.errorFn("", nil, fmt.Errorf("%s: malformed callback: %w", op, ErrInvalidParameter), w, r)
			return
		}
		values = r.PostForm
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := values.Get("state")
	if c.state != "" && state != c.state {
		c.errorFn(state, nil, fmt.Errorf("%s: response state %q does not match the request: %w", op, state, ErrUnexpectedState), w, r)
		return
	}

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		c.errorFn(state, nil, fmt.Errorf("%s: callback already processed: %w", op, ErrInvalidParameter), w, r)
		return
	}
	c.done = true
	c.mu.Unlock()

	p := Params{}
	for k, v := range values {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}
	defer func() { c.results <- p }()

	// the provider's verdict is checked by the caller; the page only reports it
	if e := values.Get("error"); e != "" {
		c.errorFn(state, &AuthErrorResponse{
			Error:       e,
			Description: values.Get("error_description"),
			URI:         values.Get("error_uri"),
		}, nil, w, r)
		return
	}
	c.successFn(state, w, r)
}

// SuccessResponse is the default SuccessResponseFunc.
func SuccessResponse(_ string, w http.ResponseWriter, _ *http.Request) {
	writeDone(w, http.StatusOK, "Signed in", "Authentication response received.")
}

// ErrorResponse is the default ErrorResponseFunc.
func ErrorResponse(_ string, respErr *AuthErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	switch {
	case respErr != nil:
		msg := respErr.Error
		if respErr.Description != "" {
			msg += ": " + respErr.Description
		}
		writeDone(w, http.StatusUnauthorized, "Sign in failed", msg)
	case e != nil:
		writeDone(w, http.StatusBadRequest, "Sign in failed", e.Error())
	default:
		writeDone(w, http.StatusInternalServerError, "Sign in failed", "unknown error")
	}
}

func writeDone(w http.ResponseWriter, status int, title, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = doneTmpl.Execute(w, map[string]string{"Title": title, "Message": msg})
}
