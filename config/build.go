// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/host"
	"github.com/hashicorp/capauth/interceptor"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/orchestrator"
	"github.com/hashicorp/capauth/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
)

// Host is the hosting environment the built components act on. Only the
// capabilities the configured handlers need must be set.
type Host struct {
	Location  host.Location
	Navigator host.Navigator
	Opener    host.WindowOpener
	Frames    host.FrameLoader
	Router    host.RouteNotifier
}

// Stack is the result of Build.
type Stack struct {
	// Config is ready to be passed to orchestrator.New. Its Fetch and
	// XHR registries are always set.
	Config *orchestrator.Config

	// Providers by name.
	Providers map[string]*oidc.Provider

	Backend storage.Backend

	redis *redis.Client
}

// Close releases the backend connection, if any. Providers are released by
// the orchestrator's Done.
func (s *Stack) Close() error {
	const op = "config.(Stack).Close"
	if s == nil || s.redis == nil {
		return nil
	}
	if err := s.redis.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Build creates the backend, handlers and providers described by f.
// Providers keep their state in the scope "capauth.provider.<name>",
// redirect handlers in "capauth.handler.<name>" and the continuation record
// in orchestrator.DefaultScope.
// Supported options: WithLogger, WithBrowserOpener, WithProviderOptions
func Build(ctx context.Context, f *File, h Host, opt ...Option) (*Stack, error) {
	const op = "config.Build"
	if f == nil {
		return nil, fmt.Errorf("%s: file is nil: %w", op, ErrNilParameter)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger

	s := &Stack{Providers: make(map[string]*oidc.Provider, len(f.Providers))}
	var err error
	if s.Backend, s.redis, err = f.Storage.backend(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	buildErr := func(err error) (*Stack, error) {
		for _, p := range s.Providers {
			p.Done()
		}
		_ = s.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	scoped := func(scope string) (storage.Store, error) {
		return storage.New(s.Backend, scope, storage.WithLogger(logger))
	}

	handlers := make(map[string]handler.Handler, len(f.Handlers))
	list := make([]handler.Handler, 0, len(f.Handlers))
	var result *multierror.Error
	for _, hc := range f.Handlers {
		hd, err := hc.build(h, scoped, opts)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		handlers[hc.Name] = hd
		list = append(list, hd)
	}
	if err := result.ErrorOrNil(); err != nil {
		return buildErr(err)
	}

	providers := make([]orchestrator.Provider, 0, len(f.Providers))
	for _, pc := range f.Providers {
		store, err := scoped("capauth.provider." + pc.Name)
		if err != nil {
			return buildErr(err)
		}
		popts := []oidc.Option{oidc.WithStore(store), oidc.WithLogger(logger)}
		switch {
		case h.Location != nil:
			popts = append(popts, oidc.WithLocation(h.Location))
		case pc.RedirectURL.Login == "":
			return buildErr(fmt.Errorf("provider %q: redirect_url is required without a location: %w", pc.Name, ErrMissingHost))
		}
		if pc.Renewal.Handler != "" {
			popts = append(popts, oidc.WithRenewer(handlers[pc.Renewal.Handler]))
		}
		if pc.VerifySignature {
			popts = append(popts, oidc.WithSignatureVerification())
		}
		p, err := oidc.NewProvider(ctx, pc.OIDCConfig(), append(popts, opts.withProviderOpts...)...)
		if err != nil {
			return buildErr(fmt.Errorf("provider %q: %w", pc.Name, err))
		}
		s.Providers[pc.Name] = p
		providers = append(providers, p)
	}

	record, err := scoped(orchestrator.DefaultScope)
	if err != nil {
		return buildErr(err)
	}
	s.Config = &orchestrator.Config{
		Providers: providers,
		Handlers:  list,
		Store:     record,
		Location:  h.Location,
		Router:    h.Router,
		Fetch:     interceptor.NewRegistry[*http.Request](),
		XHR:       interceptor.NewRegistry[*interceptor.Request](),
	}
	return s, nil
}

func (c Storage) backend() (storage.Backend, *redis.Client, error) {
	const op = "config.(Storage).backend"
	switch c.Type {
	case StorageFile:
		path, err := expandHome(c.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		b, err := storage.NewFileBackend(path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return b, nil, nil
	case StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		b, err := storage.NewRedisBackend(client, storage.WithTimeout(c.Redis.Timeout))
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return b, client, nil
	default:
		return storage.NewMemoryBackend(c.TTL), nil, nil
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func (c Handler) build(h Host, scoped func(string) (storage.Store, error), opts options) (handler.Handler, error) {
	hopts := []handler.Option{
		handler.WithName(c.Name),
		handler.WithLogger(opts.withLogger),
		handler.WithPollInterval(c.PollInterval),
	}
	if c.Default {
		hopts = append(hopts, handler.WithDefault())
	}
	if c.Timeout > 0 {
		hopts = append(hopts, handler.WithTimeout(c.Timeout))
	}
	missing := func(capability string) error {
		return fmt.Errorf("handler %q: %s needs a %s: %w", c.Name, c.Type, capability, ErrMissingHost)
	}
	switch c.Type {
	case HandlerRedirect:
		if h.Navigator == nil {
			return nil, missing("navigator")
		}
		store, err := scoped("capauth.handler." + c.Name)
		if err != nil {
			return nil, err
		}
		return handler.NewRedirect(h.Navigator, append(hopts, handler.WithStore(store))...)
	case HandlerPopup:
		if h.Opener == nil {
			return nil, missing("window opener")
		}
		return handler.NewPopup(h.Opener, append(hopts, handler.WithSize(c.Width, c.Height))...)
	case HandlerTab:
		if h.Opener == nil {
			return nil, missing("window opener")
		}
		return handler.NewTab(h.Opener, hopts...)
	case HandlerIframe:
		if h.Frames == nil {
			return nil, missing("frame loader")
		}
		if c.Visible {
			hopts = append(hopts, handler.WithVisible())
		}
		return handler.NewIframe(h.Frames, hopts...)
	case HandlerLoopback:
		return handler.NewLoopback(append(hopts, handler.WithBrowserOpener(opts.withBrowserOpener))...)
	default:
		return nil, fmt.Errorf("handler %q: unknown type %q: %w", c.Name, c.Type, ErrInvalidParameter)
	}
}
