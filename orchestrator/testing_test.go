// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin    = "https://app.example.com"
	testCallback  = "https://app.example.com/callback"
	testAuthURL   = "https://idp.example.com/authorize"
	testLogoutURL = "https://idp.example.com/logout"
)

func newTestStore(t *testing.T, b storage.Backend, scope string) storage.Store {
	t.Helper()
	s, err := storage.New(b, scope)
	require.NoError(t, err)
	return s
}

func newTestProvider(t *testing.T, b storage.Backend, name string, modify func(*oidc.Config), opt ...oidc.Option) *oidc.Provider {
	t.Helper()
	c := &oidc.Config{
		Name:        name,
		Kind:        oidc.KindOpenID,
		ClientID:    "test-client",
		AuthURL:     testAuthURL,
		LogoutURL:   testLogoutURL,
		RedirectURL: oidc.RedirectURLs{Login: testCallback},
	}
	if modify != nil {
		modify(c)
	}
	opts := append([]oidc.Option{oidc.WithStore(newTestStore(t, b, "capauth.provider."+name))}, opt...)
	p, err := oidc.NewProvider(context.Background(), c, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Done)
	return p
}

// answer plays the identity provider: it returns the location the browser
// ends up on after visiting requested.
func answer(t *testing.T, requested string) string {
	u, err := url.Parse(requested)
	require.NoError(t, err)
	q := u.Query()
	if strings.HasPrefix(requested, testLogoutURL) {
		return q.Get("post_logout_redirect_uri")
	}
	resp := url.Values{"state": {q.Get("state")}}
	for _, rt := range strings.Fields(q.Get("response_type")) {
		switch rt {
		case oidc.ResponseTypeIDToken:
			resp.Set("id_token", oidc.TestUnsignedToken(t, map[string]interface{}{
				"sub":   "alice",
				"nonce": q.Get("nonce"),
				"exp":   time.Now().Add(time.Hour).Unix(),
			}))
		case oidc.ResponseTypeToken:
			resp.Set("access_token", "access-"+q.Get("state"))
			resp.Set("expires_in", "3600")
		}
	}
	return q.Get("redirect_uri") + "#" + resp.Encode()
}

// newTestBrowser returns a browser whose windows and frames are answered
// immediately.
func newTestBrowser(t *testing.T) *host.TestBrowser {
	b := host.NewTestBrowser(t, testOrigin+"/")
	b.SetResponder(func(requested string) string { return answer(t, requested) })
	return b
}

func newTestPopup(t *testing.T, b *host.TestBrowser, opt ...handler.Option) *handler.Popup {
	t.Helper()
	opts := append([]handler.Option{handler.WithPollInterval(10 * time.Millisecond)}, opt...)
	h, err := handler.NewPopup(b, opts...)
	require.NoError(t, err)
	return h
}

func newTestRedirect(t *testing.T, b *host.TestBrowser, backend storage.Backend, opt ...handler.Option) *handler.Redirect {
	t.Helper()
	opts := append([]handler.Option{handler.WithStore(newTestStore(t, backend, "capauth.handler.redirect"))}, opt...)
	h, err := handler.NewRedirect(b, opts...)
	require.NoError(t, err)
	return h
}

func newTestIframe(t *testing.T, b *host.TestBrowser) *handler.Iframe {
	t.Helper()
	h, err := handler.NewIframe(b, handler.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	return h
}

func newTestOrchestrator(t *testing.T, c *Config, opt ...Option) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), c, opt...)
	require.NoError(t, err)
	t.Cleanup(o.Done)
	select {
	case <-o.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator never became ready")
	}
	return o
}

// storedRecord returns the continuation record as stored.
func storedRecord(s storage.Store) [3]string {
	return [3]string{s.Get(keyAction, ""), s.Get(keyProvider, ""), s.Get(keyHandler, "")}
}

var emptyRecord = [3]string{}

func counterValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
