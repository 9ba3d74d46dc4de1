// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/interceptor"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/storage"
	"github.com/hashicorp/capauth/urlutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	backend := storage.NewMemoryBackend(0)
	browser := newTestBrowser(t)
	p1 := newTestProvider(t, backend, "p1", nil)
	p1Again := newTestProvider(t, backend, "p1", nil)
	popup := newTestPopup(t, browser, handler.WithDefault())
	tab, err := handler.NewTab(browser, handler.WithName("popup"))
	require.NoError(t, err)
	otherDefault, err := handler.NewTab(browser, handler.WithDefault())
	require.NoError(t, err)

	tests := []struct {
		name      string
		config    *Config
		wantErr   bool
		wantIsErr error
	}{
		{name: "valid", config: &Config{Providers: []Provider{p1}, Handlers: []handler.Handler{popup}}},
		{name: "no-handlers", config: &Config{Providers: []Provider{p1}}},
		{name: "nil", config: nil, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "no-providers", config: &Config{Handlers: []handler.Handler{popup}}, wantErr: true, wantIsErr: ErrInvalidParameter},
		{name: "nil-provider", config: &Config{Providers: []Provider{nil}}, wantErr: true, wantIsErr: ErrNilParameter},
		{name: "nil-handler", config: &Config{Providers: []Provider{p1}, Handlers: []handler.Handler{nil}}, wantErr: true, wantIsErr: ErrNilParameter},
		{
			name:      "duplicate-provider",
			config:    &Config{Providers: []Provider{p1, p1Again}},
			wantErr:   true,
			wantIsErr: ErrDuplicateName,
		},
		{
			name:      "duplicate-handler",
			config:    &Config{Providers: []Provider{p1}, Handlers: []handler.Handler{popup, tab}},
			wantErr:   true,
			wantIsErr: ErrDuplicateName,
		},
		{
			name:      "two-defaults",
			config:    &Config{Providers: []Provider{p1}, Handlers: []handler.Handler{popup, otherDefault}},
			wantErr:   true,
			wantIsErr: ErrInvalidHandler,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
		})
	}
}

func TestNew_UnknownAction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	backend := storage.NewMemoryBackend(0)
	store := newTestStore(t, backend, DefaultScope)
	require.NoError(store.Set(keyAction, "dance"))
	require.NoError(store.Set(keyProvider, "p1"))
	require.NoError(store.Set(keyHandler, "popup"))

	browser := newTestBrowser(t)
	c := &Config{
		Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
		Handlers:  []handler.Handler{newTestPopup(t, browser)},
		Store:     store,
	}
	o, err := New(context.Background(), c)
	require.Error(err)
	assert.Nil(o)
	assert.Truef(errors.Is(err, ErrUnknownAction), "wanted \"%s\" but got \"%s\"", ErrUnknownAction, err)
	assert.Equal(emptyRecord, storedRecord(store), "a bad record must not poison the next start")

	o = newTestOrchestrator(t, c)
	assert.NotNil(o)
}

func TestNew_SharedRegisterer(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	for i := 0; i < 2; i++ {
		backend := storage.NewMemoryBackend(0)
		browser := newTestBrowser(t)
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     newTestStore(t, backend, DefaultScope),
		}, WithRegisterer(reg))
		_, err := o.Login(ctx, "p1")
		require.NoError(err)
	}
	success := map[string]string{"provider": "p1", "handler": "popup", "result": "success"}
	assert.Equal(float64(2), counterValue(t, reg, "capauth_login_total", success))

	conflicting := prometheus.NewRegistry()
	conflicting.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "capauth_login_total", Help: "other"}))
	backend := storage.NewMemoryBackend(0)
	o, err := New(ctx, &Config{
		Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
		Store:     newTestStore(t, backend, DefaultScope),
	}, WithRegisterer(conflicting))
	require.Error(err)
	assert.Nil(o)
}

func TestNew_StaleRecord(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		provider string
		handler  string
	}{
		{name: "unknown-provider", provider: "ghost", handler: "popup"},
		{name: "unknown-handler", provider: "p1", handler: "ghost"},
		{name: "no-handler", provider: "p1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			backend := storage.NewMemoryBackend(0)
			store := newTestStore(t, backend, DefaultScope)
			require.NoError(store.Set(keyAction, "login"))
			require.NoError(store.Set(keyProvider, tt.provider))
			require.NoError(store.Set(keyHandler, tt.handler))

			var events int
			browser := newTestBrowser(t)
			newTestOrchestrator(t, &Config{
				Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
				Handlers:  []handler.Handler{newTestPopup(t, browser)},
				Store:     store,
			}, WithLoginListener(func(error, LoginEvent) { events++ }))
			assert.Equal(emptyRecord, storedRecord(store))
			assert.Zero(events)
			assert.Empty(browser.Windows())
		})
	}
}

func TestOrchestrator_Lookup(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	backend := storage.NewMemoryBackend(0)
	browser := newTestBrowser(t)
	p1 := newTestProvider(t, backend, "p1", nil)
	p2 := newTestProvider(t, backend, "p2", nil)
	popup := newTestPopup(t, browser)
	tab, err := handler.NewTab(browser, handler.WithDefault())
	require.NoError(err)

	o := newTestOrchestrator(t, &Config{Providers: []Provider{p1, p2}, Handlers: []handler.Handler{popup, tab}})

	got, err := o.Provider("p2")
	require.NoError(err)
	assert.Equal(p2, got)
	_, err = o.Provider("nope")
	assert.Truef(errors.Is(err, ErrInvalidProvider), "wanted \"%s\" but got \"%s\"", ErrInvalidProvider, err)
	_, err = o.Provider("")
	assert.Truef(errors.Is(err, ErrInvalidProvider), "wanted \"%s\" but got \"%s\"", ErrInvalidProvider, err)

	h, err := o.Handler("")
	require.NoError(err)
	assert.Equal(tab, h)
	h, err = o.Handler("popup")
	require.NoError(err)
	assert.Equal(popup, h)
	_, err = o.Handler("nope")
	assert.Truef(errors.Is(err, ErrInvalidHandler), "wanted \"%s\" but got \"%s\"", ErrInvalidHandler, err)

	noDefault := newTestOrchestrator(t, &Config{Providers: []Provider{newTestProvider(t, backend, "p3", nil)}, Handlers: []handler.Handler{popup}})
	_, err = noDefault.Handler("")
	assert.Truef(errors.Is(err, ErrInvalidHandler), "wanted \"%s\" but got \"%s\"", ErrInvalidHandler, err)
	_, err = noDefault.Login(context.Background(), "p3")
	assert.Truef(errors.Is(err, ErrInvalidHandler), "wanted \"%s\" but got \"%s\"", ErrInvalidHandler, err)
}

func TestOrchestrator_Login(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("popup", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := newTestBrowser(t)
		p1 := newTestProvider(t, backend, "p1", nil)
		reg := prometheus.NewRegistry()

		var events []LoginEvent
		var errs []error
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     store,
		}, WithRegisterer(reg), WithLoginListener(func(err error, e LoginEvent) {
			errs = append(errs, err)
			events = append(events, e)
		}))
		assert.Equal(emptyRecord, storedRecord(store))

		payload, err := o.Login(ctx, "p1", WithAuthorizationOptions(oidc.WithLoginHint("alice@example.com")))
		require.NoError(err)
		require.NotNil(payload.IDToken)
		assert.Equal("alice", payload.IDToken.Subject())
		assert.Equal(payload.IDToken, p1.IDToken())
		assert.Equal(emptyRecord, storedRecord(store))

		require.Len(events, 1)
		assert.NoError(errs[0])
		assert.Equal("p1", events[0].Provider)
		assert.Equal(payload, events[0].Payload)

		windows := browser.Windows()
		require.Len(windows, 1)
		assert.True(windows[0].Closed())
		u, err := url.Parse(windows[0].Requested())
		require.NoError(err)
		assert.Equal("alice@example.com", u.Query().Get("login_hint"))
		assert.Equal(testCallback, u.Query().Get("redirect_uri"))

		assert.Equal(float64(1), counterValue(t, reg, "capauth_login_total", map[string]string{"provider": "p1", "handler": "popup", "result": "success"}))
	})

	t.Run("blocked", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		providerStore := newTestStore(t, backend, "capauth.provider.p1")
		browser := newTestBrowser(t)
		browser.BlockPopups(true)
		reg := prometheus.NewRegistry()

		var errs []error
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     store,
		}, WithRegisterer(reg), WithLoginListener(func(err error, e LoginEvent) {
			errs = append(errs, err)
			assert.Nil(e.Payload)
		}))

		_, err := o.Login(ctx, "p1")
		require.Error(err)
		assert.Truef(errors.Is(err, handler.ErrPopupBlocked), "wanted \"%s\" but got \"%s\"", handler.ErrPopupBlocked, err)
		require.Len(errs, 1)
		assert.True(errors.Is(errs[0], handler.ErrPopupBlocked))
		assert.Equal(emptyRecord, storedRecord(store))
		assert.Empty(providerStore.Get("state", ""), "anti-replay state is cleared")
		assert.Equal(float64(1), counterValue(t, reg, "capauth_login_total", map[string]string{"provider": "p1", "result": "error"}))
	})

	t.Run("unknown-provider", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		backend := storage.NewMemoryBackend(0)
		browser := newTestBrowser(t)
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
		})
		_, err := o.Login(ctx, "p2")
		assert.Truef(errors.Is(err, ErrInvalidProvider), "wanted \"%s\" but got \"%s\"", ErrInvalidProvider, err)
		_, err = o.Login(ctx, "p1", WithHandler("tab"))
		assert.Truef(errors.Is(err, ErrInvalidHandler), "wanted \"%s\" but got \"%s\"", ErrInvalidHandler, err)
		assert.Empty(browser.Windows())
	})
}

func TestOrchestrator_Login_Shared(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	backend := storage.NewMemoryBackend(0)
	browser := host.NewTestBrowser(t, testOrigin+"/")
	// the popup stays on the identity provider until answered below
	browser.SetResponder(func(requested string) string { return requested })
	reg := prometheus.NewRegistry()
	o := newTestOrchestrator(t, &Config{
		Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
		Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
	}, WithRegisterer(reg))

	var wg sync.WaitGroup
	payloads := make([]*oidc.LoginPayload, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payloads[i], errs[i] = o.Login(context.Background(), "p1")
		}(i)
	}
	require.Eventually(func() bool { return len(browser.Windows()) == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	w := browser.Windows()[0]
	w.SetURL(answer(t, w.Requested()))
	wg.Wait()

	require.NoError(errs[0])
	require.NoError(errs[1])
	assert.Same(payloads[0], payloads[1], "both calls resolve from the same attempt")
	assert.Len(browser.Windows(), 1)
	assert.Equal(float64(1), counterValue(t, reg, "capauth_login_total", map[string]string{"result": "success"}))
}

func TestOrchestrator_RedirectResume(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	store := newTestStore(t, backend, DefaultScope)
	browser := host.NewTestBrowser(t, testOrigin+"/account")

	first := newTestOrchestrator(t, &Config{
		Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
		Handlers:  []handler.Handler{newTestRedirect(t, browser, backend, handler.WithDefault())},
		Store:     store,
		Location:  browser,
	})
	assert.Equal(emptyRecord, storedRecord(store))

	_, err := first.Login(ctx, "p1")
	require.Error(err)
	assert.Truef(errors.Is(err, handler.ErrNavigated), "wanted \"%s\" but got \"%s\"", handler.ErrNavigated, err)
	assert.Equal([3]string{"login", "p1", "redirect"}, storedRecord(store), "the record survives the navigation")

	navigations := browser.Navigations()
	require.Len(navigations, 1)
	authURL, err := url.Parse(navigations[0])
	require.NoError(err)
	assert.NotEmpty(authURL.Query().Get("state"))
	assert.NotEmpty(authURL.Query().Get("nonce"))
	first.Done()

	// the identity provider sends the browser back and the process restarts
	landing := answer(t, navigations[0])
	params, err := urlutil.Params(landing)
	require.NoError(err)
	browser.SetURL(landing)

	events := make(chan LoginEvent, 1)
	errs := make(chan error, 1)
	p1 := newTestProvider(t, backend, "p1", nil)
	newTestOrchestrator(t, &Config{
		Providers: []Provider{p1},
		Handlers:  []handler.Handler{newTestRedirect(t, browser, backend, handler.WithDefault())},
		Store:     store,
		Location:  browser,
	}, WithLoginListener(func(err error, e LoginEvent) {
		errs <- err
		events <- e
	}))

	require.NoError(<-errs)
	e := <-events
	assert.Equal("p1", e.Provider)
	require.NotNil(e.Payload)
	assert.Equal(params["id_token"], e.Payload.IDToken.Raw())
	assert.False(e.Payload.IDToken.Expired())
	assert.Equal(params["id_token"], p1.IDToken().Raw())
	assert.Equal(emptyRecord, storedRecord(store))
	assert.Equal(testOrigin+"/account", browser.URL(), "the document returns to where the login started")
}

func TestOrchestrator_RedirectResume_Invalid(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	backend := storage.NewMemoryBackend(0)
	store := newTestStore(t, backend, DefaultScope)
	browser := host.NewTestBrowser(t, testOrigin+"/")

	first := newTestOrchestrator(t, &Config{
		Providers: []Provider{newTestProvider(t, backend, "p1", nil)},
		Handlers:  []handler.Handler{newTestRedirect(t, browser, backend, handler.WithDefault())},
		Store:     store,
	})
	_, err := first.Login(context.Background(), "p1")
	require.True(errors.Is(err, handler.ErrNavigated))
	first.Done()

	landing, err := url.Parse(answer(t, browser.Navigations()[0]))
	require.NoError(err)
	frag, err := url.ParseQuery(landing.Fragment)
	require.NoError(err)
	frag.Set("state", "forged")
	landing.Fragment = ""
	browser.SetURL(landing.String() + "#" + frag.Encode())

	errs := make(chan error, 1)
	reg := prometheus.NewRegistry()
	p1 := newTestProvider(t, backend, "p1", nil)
	newTestOrchestrator(t, &Config{
		Providers: []Provider{p1},
		Handlers:  []handler.Handler{newTestRedirect(t, browser, backend, handler.WithDefault())},
		Store:     store,
	}, WithRegisterer(reg), WithLoginListener(func(err error, e LoginEvent) {
		errs <- err
	}))
	err = <-errs
	assert.Truef(errors.Is(err, oidc.ErrInvalidState), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidState, err)
	assert.Nil(p1.IDToken())
	assert.Equal(emptyRecord, storedRecord(store))
	assert.Equal(float64(1), counterValue(t, reg, "capauth_resume_total", map[string]string{"provider": "p1", "action": "login", "result": "error"}))
}

func TestOrchestrator_Logout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("popup", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := newTestBrowser(t)
		p1 := newTestProvider(t, backend, "p1", nil)

		var logouts []error
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     store,
		}, WithLogoutListener(func(err error, provider string) {
			assert.Equal("p1", provider)
			logouts = append(logouts, err)
		}))
		_, err := o.Login(ctx, "p1")
		require.NoError(err)
		require.NotNil(p1.IDToken())
		raw := p1.IDToken().Raw()

		require.NoError(o.Logout(ctx, "p1"))
		assert.Nil(p1.IDToken())
		assert.Equal([]error{nil}, logouts)
		assert.Equal(emptyRecord, storedRecord(store))

		windows := browser.Windows()
		require.Len(windows, 2)
		u, err := url.Parse(windows[1].Requested())
		require.NoError(err)
		assert.Equal("/logout", u.Path)
		assert.Equal(raw, u.Query().Get("id_token_hint"))
	})

	t.Run("dismissed", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := newTestBrowser(t)
		p1 := newTestProvider(t, backend, "p1", nil)

		var logouts []error
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     store,
		}, WithLogoutListener(func(err error, _ string) { logouts = append(logouts, err) }))
		_, err := o.Login(ctx, "p1")
		require.NoError(err)

		// the user closes the logout window
		browser.SetResponder(func(string) string { return "" })
		err = o.Logout(ctx, "p1")
		require.Error(err)
		assert.Truef(errors.Is(err, handler.ErrUserCancelled), "wanted \"%s\" but got \"%s\"", handler.ErrUserCancelled, err)
		require.Len(logouts, 1)
		assert.True(errors.Is(logouts[0], handler.ErrUserCancelled))
		assert.NotNil(p1.IDToken(), "the session survives a failed logout")
		assert.Equal(emptyRecord, storedRecord(store))
	})

	t.Run("no-logout-url", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := newTestBrowser(t)
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{newTestProvider(t, backend, "p1", func(c *oidc.Config) { c.LogoutURL = "" })},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     store,
		})
		err := o.Logout(ctx, "p1")
		assert.Truef(errors.Is(err, oidc.ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", oidc.ErrInvalidParameter, err)
		assert.Empty(browser.Windows())
		assert.Equal(emptyRecord, storedRecord(store))
	})

	t.Run("redirect-resume", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := newTestBrowser(t)

		p1 := newTestProvider(t, backend, "p1", nil)
		first := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers: []handler.Handler{
				newTestPopup(t, browser),
				newTestRedirect(t, browser, backend, handler.WithDefault()),
			},
			Store: store,
		})
		_, err := first.Login(ctx, "p1", WithHandler("popup"))
		require.NoError(err)

		err = first.Logout(ctx, "p1")
		require.True(errors.Is(err, handler.ErrNavigated))
		assert.Equal([3]string{"logout", "p1", "redirect"}, storedRecord(store))
		first.Done()
		browser.SetURL(answer(t, browser.Navigations()[0]))

		logouts := make(chan error, 1)
		again := newTestProvider(t, backend, "p1", nil)
		require.NotNil(again.IDToken(), "the session is restored from the store")
		newTestOrchestrator(t, &Config{
			Providers: []Provider{again},
			Handlers:  []handler.Handler{newTestRedirect(t, browser, backend, handler.WithDefault())},
			Store:     store,
		}, WithLogoutListener(func(err error, _ string) { logouts <- err }))
		require.NoError(<-logouts)
		assert.Nil(again.IDToken())
		assert.Equal(emptyRecord, storedRecord(store))
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestOrchestrator_Interceptors(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	browser := newTestBrowser(t)
	fetch := interceptor.NewRegistry[*http.Request]()
	xhr := interceptor.NewRegistry[*interceptor.Request]()

	api := newTestProvider(t, backend, "api", func(c *oidc.Config) {
		c.ResponseType = "id_token token"
		c.Endpoints = urlutil.NewPatterns(urlutil.MustRegexp(`^https://api\.example\.com/`), urlutil.Literal("/local"))
	})
	other := newTestProvider(t, backend, "other", func(c *oidc.Config) {
		c.Kind = oidc.KindOAuth2
		c.ResponseType = "token"
		c.Endpoints = urlutil.NewPatterns(urlutil.Literal("https://other.example.com/data"))
	})
	o := newTestOrchestrator(t, &Config{
		Providers: []Provider{api, other},
		Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
		Location:  browser,
		Fetch:     fetch,
		XHR:       xhr,
	})

	var sent []*http.Request
	tr, err := interceptor.NewTransport(fetch, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		sent = append(sent, r)
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: r}, nil
	}))
	require.NoError(err)
	client := tr.Client()
	get := func(u string) *http.Request {
		resp, err := client.Get(u)
		require.NoError(err)
		require.NoError(resp.Body.Close())
		return sent[len(sent)-1]
	}

	// no session yet and the popup cannot open unattended
	assert.Empty(get("https://api.example.com/things").Header.Values("Authorization"))

	_, err = o.Login(ctx, "api")
	require.NoError(err)
	bearer := "Bearer " + api.AccessToken().Raw()
	assert.Equal([]string{bearer}, get("https://api.example.com/things").Header.Values("Authorization"))
	assert.Equal([]string{bearer}, get(testOrigin+"/local").Header.Values("Authorization"))
	assert.Empty(get("https://elsewhere.example.com/things").Header.Values("Authorization"))

	req, err := interceptor.NewRequest(http.MethodGet, "https://api.example.com/things")
	require.NoError(err)
	require.NoError(xhr.Run(ctx, req))
	assert.Equal([]string{bearer}, req.Header().Values("Authorization"))

	o.Done()
	assert.Zero(fetch.Len())
	assert.Zero(xhr.Len())
}

func TestOrchestrator_Guard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	renewing := func(t *testing.T, browser *host.TestBrowser, backend storage.Backend) *oidc.Provider {
		return newTestProvider(t, backend, "p1", func(c *oidc.Config) {
			c.ResponseType = "id_token token"
			c.Renewal.Buffer = 60 * time.Second
			c.Routes = urlutil.NewPatterns(urlutil.Literal("/account"))
		}, oidc.WithRenewer(newTestIframe(t, browser)))
	}
	// expiring logs p in with an access token that is already inside the
	// renewal buffer.
	expiring := func(t *testing.T, p *oidc.Provider) {
		authURL, err := p.BuildAuthorizationURL()
		require.NoError(t, err)
		params, err := urlutil.Params(answer(t, authURL))
		require.NoError(t, err)
		params["expires_in"] = "30"
		_, err = p.Validate(ctx, params)
		require.NoError(t, err)
		require.True(t, p.AccessToken().Expired(oidc.WithExpirySkew(p.Renewal().Buffer)))
	}

	t.Run("renews-unattended", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := host.NewTestBrowser(t, testOrigin+"/account")
		browser.SetResponder(func(requested string) string { return answer(t, requested) })
		p1 := renewing(t, browser, backend)
		expiring(t, p1)
		before := p1.AccessToken().Raw()

		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     store,
			Location:  browser,
		})
		require.NoError(o.Guard(ctx))
		assert.NotEqual(before, p1.AccessToken().Raw())
		assert.False(p1.AccessToken().Expired(oidc.WithExpirySkew(p1.Renewal().Buffer)))
		// the background renewal may have answered first
		assert.NotEmpty(browser.Frames())
		assert.Empty(browser.Windows(), "no interactive login was needed")
		assert.Equal(emptyRecord, storedRecord(store))
	})

	t.Run("auto-unsupported", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := newTestBrowser(t)
		browser.SetURL(testOrigin + "/account")
		p1 := newTestProvider(t, backend, "p1", func(c *oidc.Config) {
			c.Routes = urlutil.NewPatterns(urlutil.Literal("/account"))
		})
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Store:     store,
			Location:  browser,
		})
		err := o.Guard(ctx)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrAutoUnsupported), "wanted \"%s\" but got \"%s\"", ErrAutoUnsupported, err)
		assert.Empty(browser.Windows())
		assert.Equal(emptyRecord, storedRecord(store))
	})

	t.Run("auto-login", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		store := newTestStore(t, backend, DefaultScope)
		browser := newTestBrowser(t)
		browser.SetURL(testOrigin + "/account")
		p1 := newTestProvider(t, backend, "p1", func(c *oidc.Config) {
			c.Routes = urlutil.MatchAll()
		})
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestRedirect(t, browser, backend, handler.WithDefault())},
			Store:     store,
			Location:  browser,
		})
		err := o.Guard(ctx)
		assert.Truef(errors.Is(err, handler.ErrNavigated), "wanted \"%s\" but got \"%s\"", handler.ErrNavigated, err)
		require.Len(browser.Navigations(), 1)
		assert.Equal([3]string{"login", "p1", "redirect"}, storedRecord(store))
	})

	t.Run("id-token-only", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		browser := newTestBrowser(t)
		browser.SetURL(testOrigin + "/account")
		p1 := newTestProvider(t, backend, "p1", func(c *oidc.Config) {
			c.Routes = urlutil.NewPatterns(urlutil.Literal("/account"))
		})
		silent, err := handler.NewIframe(browser, handler.WithPollInterval(10*time.Millisecond), handler.WithDefault())
		require.NoError(err)
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{silent},
			Store:     newTestStore(t, backend, DefaultScope),
			Location:  browser,
		})

		require.NoError(o.Guard(ctx))
		assert.Len(browser.Frames(), 1, "one login satisfies an id_token provider")
		assert.False(p1.IDToken().Expired())
		assert.Empty(p1.AccessToken().Raw())

		require.NoError(o.Guard(ctx))
		assert.Len(browser.Frames(), 1)
	})

	t.Run("other-route", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		backend := storage.NewMemoryBackend(0)
		browser := newTestBrowser(t)
		p1 := newTestProvider(t, backend, "p1", func(c *oidc.Config) {
			c.Routes = urlutil.NewPatterns(urlutil.Literal("/account"))
		})
		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Location:  browser,
		})
		require.NoError(o.Guard(ctx))
	})

	t.Run("route-change", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		backend := storage.NewMemoryBackend(0)
		browser := newTestBrowser(t)
		p1 := newTestProvider(t, backend, "p1", func(c *oidc.Config) {
			c.ResponseType = "id_token token"
			c.Routes = urlutil.NewPatterns(urlutil.Literal("/account"))
		})
		reg := prometheus.NewRegistry()

		o := newTestOrchestrator(t, &Config{
			Providers: []Provider{p1},
			Handlers:  []handler.Handler{newTestPopup(t, browser, handler.WithDefault())},
			Location:  browser,
			Router:    browser,
		}, WithRegisterer(reg))
		assert.Equal(1, browser.RouteListeners())
		_, err := o.Login(ctx, "p1")
		require.NoError(err)

		secured := map[string]string{"provider": "p1", "decision": "secured"}
		browser.ChangeRoute(testOrigin + "/account")
		require.Eventually(func() bool {
			return counterValue(t, reg, "capauth_secure_total", secured) == 1
		}, 5*time.Second, 10*time.Millisecond)

		o.Done()
		assert.Zero(browser.RouteListeners())
		browser.ChangeRoute(testOrigin + "/account")
		assert.Equal(float64(1), counterValue(t, reg, "capauth_secure_total", secured))
	})
}
