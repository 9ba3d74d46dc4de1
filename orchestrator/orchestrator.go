// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/interceptor"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"
)

// DefaultScope is the store scope of the continuation record when
// Config.Store is nil.
const DefaultScope = "capauth.orchestrator"

// continuation record keys
const (
	keyAction   = "action"
	keyProvider = "provider"
	keyHandler  = "handler"
)

// LoginEvent is delivered to login listeners. Payload is nil on failure.
type LoginEvent struct {
	Provider string
	Payload  *oidc.LoginPayload
}

// LoginListener receives the outcome of every login of every provider,
// including validations of resumed and renewed flows.
type LoginListener func(err error, e LoginEvent)

// LogoutListener receives the outcome of every logout.
type LogoutListener func(err error, provider string)

// Config is the configuration of an Orchestrator.
type Config struct {
	// Providers are consulted in this order.
	Providers []Provider

	// Handlers are the available transports. At most one may be the
	// default.
	Handlers []handler.Handler

	// Store holds the continuation record. Defaults to an in-memory store
	// scoped to DefaultScope, which cannot resume flows across processes.
	Store storage.Store

	// Location is the current document, matched against provider routes
	// and used as the origin of root-relative patterns.
	Location host.Location

	// Router, when set, triggers Guard on every route change.
	Router host.RouteNotifier

	// Fetch and XHR, when set, get a hook that secures matching requests.
	Fetch *interceptor.Registry[*http.Request]
	XHR   *interceptor.Registry[*interceptor.Request]
}

// Validate the orchestrator configuration.
func (c *Config) Validate() error {
	const op = "orchestrator.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if len(c.Providers) == 0 {
		result = multierror.Append(result, fmt.Errorf("no providers: %w", ErrInvalidParameter))
	}
	providers := map[string]bool{}
	for i, p := range c.Providers {
		switch {
		case p == nil:
			result = multierror.Append(result, fmt.Errorf("provider %d is nil: %w", i, ErrNilParameter))
		case providers[p.Name()]:
			result = multierror.Append(result, fmt.Errorf("provider %q: %w", p.Name(), ErrDuplicateName))
		default:
			providers[p.Name()] = true
		}
	}
	handlers := map[string]bool{}
	var defaults []string
	for i, h := range c.Handlers {
		switch {
		case h == nil:
			result = multierror.Append(result, fmt.Errorf("handler %d is nil: %w", i, ErrNilParameter))
			continue
		case handlers[h.Name()]:
			result = multierror.Append(result, fmt.Errorf("handler %q: %w", h.Name(), ErrDuplicateName))
		default:
			handlers[h.Name()] = true
		}
		if h.Default() {
			defaults = append(defaults, h.Name())
		}
	}
	if len(defaults) > 1 {
		result = multierror.Append(result, fmt.Errorf("handlers %q are all marked default: %w", defaults, ErrInvalidHandler))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Orchestrator drives login and logout flows across providers and handlers,
// resumes flows interrupted by a navigation and keeps outgoing requests and
// guarded routes authenticated. It is safe for concurrent use.
type Orchestrator struct {
	providers []Provider
	handlers  []handler.Handler
	store     storage.Store
	location  host.Location
	logger    hclog.Logger
	metrics   *metrics

	// flights deduplicates concurrent flows of the same provider and
	// handler
	flights singleflight.Group

	listenersMu     sync.Mutex
	nextListener    int
	loginListeners  map[int]LoginListener
	logoutListeners map[int]LogoutListener

	unsubscribe []func()
	ready       chan struct{}
	done        sync.Once

	guardsMu sync.Mutex
	stopped  bool
	guards   sync.WaitGroup

	// backgroundCtx is the context used by the orchestrator for background
	// activities like: connected notifications and route guards
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// New creates an Orchestrator and reads the continuation record once. A
// record with an unrecognized action is cleared and fails New with
// ErrUnknownAction. A pending login or logout is resumed in the background
// by the handler the record names; ctx bounds that resume. Ready is closed
// once providers and handlers have been notified.
//
// See Orchestrator.Done() which must be called to release resources.
// Supported options: WithLogger, WithRegisterer, WithLoginListener,
// WithLogoutListener
func New(ctx context.Context, c *Config, opt ...Option) (*Orchestrator, error) {
	const op = "orchestrator.New"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)

	store := c.Store
	if store == nil {
		var err error
		if store, err = storage.NewMemory(DefaultScope); err != nil {
			return nil, fmt.Errorf("%s: unable to create store: %w", op, err)
		}
	}

	m, err := newMetrics(opts.withRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to register metrics: %w", op, err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		providers:           append([]Provider(nil), c.Providers...),
		handlers:            append([]handler.Handler(nil), c.Handlers...),
		store:               store,
		location:            c.Location,
		logger:              opts.withLogger.Named("orchestrator"),
		metrics:             m,
		loginListeners:      map[int]LoginListener{},
		logoutListeners:     map[int]LogoutListener{},
		ready:               make(chan struct{}),
		backgroundCtx:       bgCtx,
		backgroundCtxCancel: cancel,
	}
	for _, fn := range opts.withLoginListeners {
		o.OnLogin(fn)
	}
	for _, fn := range opts.withLogoutListeners {
		o.OnLogout(fn)
	}

	pending, err := o.readRecord()
	if err != nil {
		o.clearRecord()
		cancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	o.clearRecord()

	for _, p := range o.providers {
		name := p.Name()
		o.unsubscribe = append(o.unsubscribe,
			p.OnLogin(func(err error, payload *oidc.LoginPayload) {
				o.emitLogin(err, LoginEvent{Provider: name, Payload: payload})
			}),
			p.OnLogout(func(err error) {
				o.emitLogout(err, name)
			}),
		)
	}
	if c.Fetch != nil {
		o.unsubscribe = append(o.unsubscribe, c.Fetch.Add(func(ctx context.Context, r *http.Request) error {
			return o.secureRequest(ctx, r.URL.String(), r)
		}))
	}
	if c.XHR != nil {
		o.unsubscribe = append(o.unsubscribe, c.XHR.Add(func(ctx context.Context, r *interceptor.Request) error {
			return o.secureRequest(ctx, r.URL(), r)
		}))
	}
	if c.Router != nil {
		o.unsubscribe = append(o.unsubscribe, c.Router.OnRouteChange(o.routeChanged))
	}

	go o.connect(ctx, pending)
	return o, nil
}

// Ready is closed once every provider and handler has received its
// connected notification and any pending flow has been resumed.
func (o *Orchestrator) Ready() <-chan struct{} { return o.ready }

// Done stops route guards, removes the interceptor hooks and releases the
// providers. It must be called for every Orchestrator created.
func (o *Orchestrator) Done() {
	if o == nil {
		return
	}
	o.done.Do(func() {
		o.backgroundCtxCancel()
		for _, fn := range o.unsubscribe {
			fn()
		}
		o.guardsMu.Lock()
		o.stopped = true
		o.guardsMu.Unlock()
		o.guards.Wait()
		<-o.ready
		for _, p := range o.providers {
			p.Done()
		}
	})
}

// Provider returns the provider registered under name.
func (o *Orchestrator) Provider(name string) (Provider, error) {
	const op = "orchestrator.(Orchestrator).Provider"
	for _, p := range o.providers {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: no provider named %q: %w", op, name, ErrInvalidProvider)
}

// Handler returns the handler registered under name, or the default handler
// when name is empty.
func (o *Orchestrator) Handler(name string) (handler.Handler, error) {
	const op = "orchestrator.(Orchestrator).Handler"
	for _, h := range o.handlers {
		if (name == "" && h.Default()) || (name != "" && h.Name() == name) {
			return h, nil
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%s: no default handler: %w", op, ErrInvalidHandler)
	}
	return nil, fmt.Errorf("%s: no handler named %q: %w", op, name, ErrInvalidHandler)
}

// OnLogin registers fn and returns a function that removes it.
func (o *Orchestrator) OnLogin(fn LoginListener) (remove func()) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	id := o.nextListener
	o.nextListener++
	o.loginListeners[id] = fn
	return func() {
		o.listenersMu.Lock()
		defer o.listenersMu.Unlock()
		delete(o.loginListeners, id)
	}
}

// OnLogout registers fn and returns a function that removes it.
func (o *Orchestrator) OnLogout(fn LogoutListener) (remove func()) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	id := o.nextListener
	o.nextListener++
	o.logoutListeners[id] = fn
	return func() {
		o.listenersMu.Lock()
		defer o.listenersMu.Unlock()
		delete(o.logoutListeners, id)
	}
}

func (o *Orchestrator) emitLogin(err error, e LoginEvent) {
	o.listenersMu.Lock()
	fns := make([]LoginListener, 0, len(o.loginListeners))
	for i := 0; i < o.nextListener; i++ {
		if fn, ok := o.loginListeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	o.listenersMu.Unlock()
	for _, fn := range fns {
		fn(err, e)
	}
}

func (o *Orchestrator) emitLogout(err error, provider string) {
	o.listenersMu.Lock()
	fns := make([]LogoutListener, 0, len(o.logoutListeners))
	for i := 0; i < o.nextListener; i++ {
		if fn, ok := o.logoutListeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	o.listenersMu.Unlock()
	for _, fn := range fns {
		fn(err, provider)
	}
}
