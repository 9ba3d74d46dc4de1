// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/keyset"
	sdkhttp "github.com/hashicorp/capauth/sdk/http"
	"github.com/hashicorp/capauth/storage"
	"github.com/hashicorp/capauth/urlutil"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// LoginListener receives every validation outcome. payload is nil when err
// is not.
type LoginListener func(err error, payload *LoginPayload)

// LogoutListener receives every logout outcome.
type LogoutListener func(err error)

// Provider holds the protocol logic and token state of one identity
// provider. It is safe for concurrent use.
type Provider struct {
	config   *Config
	store    storage.Store
	logger   hclog.Logger
	location host.Location
	renewer  handler.Handler
	now      func() time.Time
	keySet   keyset.KeySet

	// endpoints after discovery
	authURL   string
	logoutURL string

	mu          sync.Mutex
	idToken     *IDToken
	accessToken *AccessToken

	listenersMu     sync.Mutex
	nextListener    int
	loginListeners  map[int]LoginListener
	logoutListeners map[int]LogoutListener

	renewals  singleflight.Group
	changed   chan struct{}
	connected sync.Once

	// backgroundCtx is the context used by the provider for background
	// activities like: renewing access tokens before they expire
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates a Provider. When the config names an Issuer, its
// discovery document is fetched to fill in the authorization and end session
// endpoints not configured explicitly.
//
// Tokens persisted in the store by an earlier process are restored.
//
// See Provider.Done() which must be called to release provider resources.
// Supported options: WithStore, WithLogger, WithLocation, WithRenewer,
// WithNow, WithSignatureVerification, WithKeySet
func NewProvider(ctx context.Context, c *Config, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)
	cfg := c.withDefaults()
	if cfg.RedirectURL.Login == "" && opts.withLocation == nil {
		return nil, fmt.Errorf("%s: a login redirect url or a location is required: %w", op, ErrInvalidParameter)
	}
	if opts.withRenewer != nil && !opts.withRenewer.Auto() {
		return nil, fmt.Errorf("%s: renewer %q cannot run unattended: %w", op, opts.withRenewer.Name(), ErrInvalidParameter)
	}

	store := opts.withStore
	if store == nil {
		var err error
		if store, err = storage.NewMemory("capauth.provider." + cfg.Name); err != nil {
			return nil, fmt.Errorf("%s: unable to create store: %w", op, err)
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              cfg,
		store:               store,
		logger:              opts.withLogger.Named("provider").With("provider", cfg.Name),
		location:            opts.withLocation,
		renewer:             opts.withRenewer,
		now:                 opts.withNow,
		keySet:              opts.withKeySet,
		authURL:             cfg.AuthURL,
		logoutURL:           cfg.LogoutURL,
		loginListeners:      map[int]LoginListener{},
		logoutListeners:     map[int]LogoutListener{},
		changed:             make(chan struct{}, 1),
		backgroundCtx:       bgCtx,
		backgroundCtxCancel: cancel,
	}

	var discovered *oidc.Provider
	if cfg.Issuer != "" {
		var err error
		if discovered, err = p.discover(ctx); err != nil {
			p.Done() // release the backgroundCtxCancel resources
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if p.authURL == "" {
		p.Done()
		return nil, fmt.Errorf("%s: no authorization endpoint configured or discovered: %w", op, ErrInvalidParameter)
	}
	if opts.withSignatureVerification && p.keySet == nil {
		ks, err := p.newKeySet(discovered)
		if err != nil {
			p.Done()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		p.keySet = ks
	}
	p.restore()
	return p, nil
}

func (p *Provider) discover(ctx context.Context) (*oidc.Provider, error) {
	const op = "oidc.(Provider).discover"
	client, err := sdkhttp.NewClient(p.config.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkhttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	discovered, err := oidc.NewProvider(sdkhttp.ClientContext(ctx, client), p.config.Issuer) // makes http req to issuer for discovery
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover %q: %w: %s", op, p.config.Issuer, ErrInvalidIssuer, err)
	}
	var extra struct {
		EndSession string `json:"end_session_endpoint"`
	}
	if err := discovered.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w: %s", op, ErrInvalidIssuer, err)
	}
	if p.authURL == "" {
		p.authURL = discovered.Endpoint().AuthURL
	}
	if p.logoutURL == "" {
		p.logoutURL = extra.EndSession
	}
	p.logger.Debug("discovered issuer", "issuer", p.config.Issuer, "auth_url", p.authURL, "logout_url", p.logoutURL)
	return discovered, nil
}

func (p *Provider) newKeySet(discovered *oidc.Provider) (keyset.KeySet, error) {
	const op = "oidc.(Provider).newKeySet"
	switch {
	case p.config.JWKSURL != "":
		return keyset.NewJSONWebKeySet(p.backgroundCtx, p.config.JWKSURL, p.config.ProviderCA)
	case len(p.config.PublicKeys) > 0:
		return keyset.NewStaticKeySet(p.config.PublicKeys)
	case discovered != nil:
		return keyset.NewDiscoveryKeySet(discovered)
	}
	return nil, fmt.Errorf("%s: signature verification needs an issuer, a jwks url or public keys: %w", op, ErrInvalidParameter)
}

// restore loads tokens persisted by an earlier process. Unreadable values
// are logged and dropped.
func (p *Provider) restore() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if raw := p.store.Get(keyIDToken, ""); raw != "" {
		t, err := ParseIDToken(raw)
		if err != nil {
			p.logger.Warn("dropping unreadable stored id_token", "error", err)
			_ = p.store.Set(keyIDToken, "")
		} else {
			p.idToken = t
		}
	}
	if raw := p.store.Get(keyAccessToken, ""); raw != "" {
		var expiry time.Time
		if ms := p.store.Get(keyAccessExp, ""); ms != "" {
			n, err := strconv.ParseInt(ms, 10, 64)
			if err != nil {
				p.logger.Warn("dropping unreadable stored access_token expiration", "error", err)
				_ = p.store.Set(keyAccessToken, "")
				_ = p.store.Set(keyAccessExp, "")
				return
			}
			expiry = time.UnixMilli(n)
		}
		p.accessToken = NewAccessToken(raw, expiry)
	}
}

// persist stores tokens from a successful validation. Nil tokens leave the
// current value untouched.
func (p *Provider) persist(idToken *IDToken, accessToken *AccessToken) error {
	const op = "oidc.(Provider).persist"
	p.mu.Lock()
	defer p.mu.Unlock()
	if idToken != nil {
		if err := p.store.Set(keyIDToken, idToken.Raw()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		p.idToken = idToken
	}
	if accessToken != nil {
		exp := ""
		if !accessToken.Expiry().IsZero() {
			exp = strconv.FormatInt(accessToken.Expiry().UnixMilli(), 10)
		}
		if err := p.store.Set(keyAccessToken, accessToken.Raw()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := p.store.Set(keyAccessExp, exp); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		p.accessToken = accessToken
	}
	select {
	case p.changed <- struct{}{}:
	default:
	}
	return nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Name returns the provider's name.
func (p *Provider) Name() string { return p.config.Name }

// Kind returns the provider's protocol.
func (p *Provider) Kind() Kind { return p.config.Kind }

// ResponseType returns the configured response type.
func (p *Provider) ResponseType() string { return p.config.ResponseType }

// Renewal returns the effective renewal configuration.
func (p *Provider) Renewal() Renewal { return p.config.Renewal }

// Endpoints returns the request destinations this provider secures.
func (p *Provider) Endpoints() urlutil.Patterns { return p.config.Endpoints }

// Routes returns the locations that require an authenticated session.
func (p *Provider) Routes() urlutil.Patterns { return p.config.Routes }

// IDToken returns the current id_token, or nil.
func (p *Provider) IDToken() *IDToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken
}

// AccessToken returns the current access_token, or nil.
func (p *Provider) AccessToken() *AccessToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessToken
}

// RedirectURL returns the URL the identity provider returns to after action.
func (p *Provider) RedirectURL(action handler.Action) string {
	if action == handler.ActionLogout && p.config.RedirectURL.Logout != "" {
		return p.config.RedirectURL.Logout
	}
	if p.config.RedirectURL.Login != "" {
		return p.config.RedirectURL.Login
	}
	if p.location == nil {
		return ""
	}
	return urlutil.Origin(p.location.URL())
}

// Reset clears every persisted token and anti-replay value of this
// provider. Calling it again is a no-op.
func (p *Provider) Reset() error {
	const op = "oidc.(Provider).Reset"
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idToken = nil
	p.accessToken = nil
	if err := p.store.Clear(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// OnLogin registers fn and returns a function that removes it.
func (p *Provider) OnLogin(fn LoginListener) (remove func()) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	id := p.nextListener
	p.nextListener++
	p.loginListeners[id] = fn
	return func() {
		p.listenersMu.Lock()
		defer p.listenersMu.Unlock()
		delete(p.loginListeners, id)
	}
}

// OnLogout registers fn and returns a function that removes it.
func (p *Provider) OnLogout(fn LogoutListener) (remove func()) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	id := p.nextListener
	p.nextListener++
	p.logoutListeners[id] = fn
	return func() {
		p.listenersMu.Lock()
		defer p.listenersMu.Unlock()
		delete(p.logoutListeners, id)
	}
}

// listeners are called in registration order
func (p *Provider) emitLogin(err error, payload *LoginPayload) {
	p.listenersMu.Lock()
	fns := make([]LoginListener, 0, len(p.loginListeners))
	for i := 0; i < p.nextListener; i++ {
		if fn, ok := p.loginListeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.listenersMu.Unlock()
	for _, fn := range fns {
		fn(err, payload)
	}
}

func (p *Provider) emitLogout(err error) {
	p.listenersMu.Lock()
	fns := make([]LogoutListener, 0, len(p.logoutListeners))
	for i := 0; i < p.nextListener; i++ {
		if fn, ok := p.logoutListeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.listenersMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// FailLogin ends a login attempt that failed before validation, for example
// in the transport. The anti-replay state is cleared and listeners are
// notified.
func (p *Provider) FailLogin(err error) {
	p.clearAttempt()
	p.emitLogin(err, nil)
}

// FinishLogout ends a logout attempt. On success the provider is reset
// before listeners are notified.
func (p *Provider) FinishLogout(err error) error {
	const op = "oidc.(Provider).FinishLogout"
	if err == nil {
		if resetErr := p.Reset(); resetErr != nil {
			err = fmt.Errorf("%s: %w", op, resetErr)
		}
	}
	p.emitLogout(err)
	return err
}
