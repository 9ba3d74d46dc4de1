// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package interceptor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
)

// Request is an XHR style request handle: hooks see its destination and set
// headers on it, but never the underlying http.Request.
type Request struct {
	method string
	url    string
	header http.Header
}

// NewRequest creates a Request. The url must be absolute.
func NewRequest(method, rawURL string) (*Request, error) {
	const op = "interceptor.NewRequest"
	if strings.TrimSpace(method) == "" {
		return nil, fmt.Errorf("%s: method is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%s: %q is not an absolute url: %w", op, rawURL, ErrInvalidParameter)
	}
	return &Request{method: strings.ToUpper(method), url: rawURL, header: http.Header{}}, nil
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// URL returns the request destination.
func (r *Request) URL() string { return r.url }

// SetRequestHeader sets a header, replacing any previous value.
func (r *Request) SetRequestHeader(key, value string) { r.header.Set(key, value) }

// Header returns a copy of the headers set so far.
func (r *Request) Header() http.Header { return r.header.Clone() }

// XHR sends Requests after running its hooks on them.
type XHR struct {
	Client *http.Client
	Hooks  *Registry[*Request]
}

// NewXHR creates an XHR sender. client may be nil.
func NewXHR(hooks *Registry[*Request], client *http.Client) (*XHR, error) {
	const op = "interceptor.NewXHR"
	if hooks == nil {
		return nil, fmt.Errorf("%s: hooks are nil: %w", op, ErrNilParameter)
	}
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &XHR{Client: client, Hooks: hooks}, nil
}

// Send runs the hooks on req and then dispatches it with body.
func (x *XHR) Send(ctx context.Context, req *Request, body io.Reader) (*http.Response, error) {
	const op = "interceptor.(XHR).Send"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if err := x.Hooks.Run(ctx, req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	httpReq.Header = req.Header()
	resp, err := x.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}
