// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package config reads a YAML configuration file and builds the providers,
// handlers and stores an orchestrator is created from.
//
// A minimal file:
//
//	storage:
//	  type: file
//	  path: ~/.capauth/state.json
//	providers:
//	  - name: corp
//	    issuer: https://idp.example.com
//	    client_id: my-app
//	    redirect_url:
//	      login: http://127.0.0.1:8250/callback
//	    endpoints:
//	      - regex: ^https://api\.example\.com/
//	handlers:
//	  - type: loopback
//	    default: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/urlutil"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// storage types
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// handler types
const (
	HandlerRedirect = "redirect"
	HandlerPopup    = "popup"
	HandlerTab      = "tab"
	HandlerIframe   = "iframe"
	HandlerLoopback = "loopback"
)

// File is the root of a configuration file.
type File struct {
	Storage   Storage    `yaml:"storage"`
	Providers []Provider `yaml:"providers"`
	Handlers  []Handler  `yaml:"handlers"`
}

// Storage selects the backend every store is created on.
type Storage struct {
	// Type is one of memory (default), file or redis.
	Type string `yaml:"type"`

	// TTL expires memory entries. Zero never expires.
	TTL time.Duration `yaml:"ttl"`

	// Path of the JSON file for the file backend. A leading ~ is the
	// user's home directory.
	Path string `yaml:"path"`

	Redis Redis `yaml:"redis"`
}

// Redis connects the redis backend.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Provider mirrors oidc.Config.
type Provider struct {
	Name            string           `yaml:"name"`
	Kind            string           `yaml:"kind"`
	ClientID        string           `yaml:"client_id"`
	Issuer          string           `yaml:"issuer"`
	AuthURL         string           `yaml:"auth_url"`
	LogoutURL       string           `yaml:"logout_url"`
	RedirectURL     RedirectURLs     `yaml:"redirect_url"`
	ResponseType    string           `yaml:"response_type"`
	Scope           string           `yaml:"scope"`
	ResponseMode    string           `yaml:"response_mode"`
	Renewal         Renewal          `yaml:"renewal"`
	Endpoints       urlutil.Patterns `yaml:"endpoints"`
	Routes          urlutil.Patterns `yaml:"routes"`
	ProviderCA      string           `yaml:"provider_ca"`
	JWKSURL         string           `yaml:"jwks_url"`
	PublicKeys      []string         `yaml:"public_keys"`
	VerifySignature bool             `yaml:"verify_signature"`
}

// RedirectURLs mirrors oidc.RedirectURLs.
type RedirectURLs struct {
	Login  string `yaml:"login"`
	Logout string `yaml:"logout"`
}

// Renewal mirrors oidc.Renewal. Handler names the configured handler used
// to renew unattended.
type Renewal struct {
	Type    string        `yaml:"type"`
	Buffer  time.Duration `yaml:"buffer"`
	Timeout time.Duration `yaml:"timeout"`
	Handler string        `yaml:"handler"`
}

// Handler configures one transport.
type Handler struct {
	Type         string        `yaml:"type"`
	Name         string        `yaml:"name"`
	Default      bool          `yaml:"default"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// popup
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// iframe
	Visible bool `yaml:"visible"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	const op = "config.Load"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, path, err)
	}
	return f, nil
}

// Parse decodes b, rejecting unknown fields, applies defaults and
// validates the result.
func Parse(b []byte) (*File, error) {
	const op = "config.Parse"
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: configuration is empty: %w", op, ErrInvalidParameter)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Storage.Type == "" {
		f.Storage.Type = StorageMemory
	}
	if f.Storage.Redis.Timeout == 0 {
		f.Storage.Redis.Timeout = 5 * time.Second
	}
	for i := range f.Providers {
		if f.Providers[i].Kind == "" {
			f.Providers[i].Kind = string(oidc.KindOpenID)
		}
	}
	for i := range f.Handlers {
		if f.Handlers[i].Name == "" {
			f.Handlers[i].Name = f.Handlers[i].Type
		}
	}
}

// Validate checks the file. Provider entries are checked with
// oidc.(Config).Validate. Every problem found is reported.
func (f *File) Validate() error {
	const op = "config.(File).Validate"
	if f == nil {
		return fmt.Errorf("%s: file is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	switch f.Storage.Type {
	case StorageMemory:
	case StorageFile:
		if strings.TrimSpace(f.Storage.Path) == "" {
			result = multierror.Append(result, fmt.Errorf("storage: file backend needs a path: %w", ErrInvalidParameter))
		}
	case StorageRedis:
		if f.Storage.Redis.Addr == "" {
			result = multierror.Append(result, fmt.Errorf("storage: redis backend needs an addr: %w", ErrInvalidParameter))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("storage: unknown type %q: %w", f.Storage.Type, ErrInvalidParameter))
	}

	if len(f.Providers) == 0 {
		result = multierror.Append(result, fmt.Errorf("no providers: %w", ErrInvalidParameter))
	}
	handlers := make(map[string]bool, len(f.Handlers))
	for i, h := range f.Handlers {
		switch h.Type {
		case HandlerRedirect, HandlerPopup, HandlerTab, HandlerIframe, HandlerLoopback:
		default:
			result = multierror.Append(result, fmt.Errorf("handlers[%d]: unknown type %q: %w", i, h.Type, ErrInvalidParameter))
		}
		if strings.Contains(h.Name, ".") {
			result = multierror.Append(result, fmt.Errorf("handlers[%d]: name %q contains a \".\": %w", i, h.Name, ErrInvalidParameter))
		}
		handlers[h.Name] = true
	}
	for i, p := range f.Providers {
		if err := p.OIDCConfig().Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("providers[%d]: %w", i, err))
		}
		if p.Renewal.Handler != "" && !handlers[p.Renewal.Handler] {
			result = multierror.Append(result, fmt.Errorf("providers[%d]: renewal handler %q is not configured: %w", i, p.Renewal.Handler, ErrInvalidParameter))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// OIDCConfig converts p.
func (p Provider) OIDCConfig() *oidc.Config {
	return &oidc.Config{
		Name:         p.Name,
		Kind:         oidc.Kind(p.Kind),
		ClientID:     p.ClientID,
		Issuer:       p.Issuer,
		AuthURL:      p.AuthURL,
		LogoutURL:    p.LogoutURL,
		RedirectURL:  oidc.RedirectURLs{Login: p.RedirectURL.Login, Logout: p.RedirectURL.Logout},
		ResponseType: p.ResponseType,
		Scope:        p.Scope,
		ResponseMode: p.ResponseMode,
		Renewal: oidc.Renewal{
			Type:    oidc.RenewalType(p.Renewal.Type),
			Buffer:  p.Renewal.Buffer,
			Timeout: p.Renewal.Timeout,
		},
		Endpoints:  p.Endpoints,
		Routes:     p.Routes,
		ProviderCA: p.ProviderCA,
		JWKSURL:    p.JWKSURL,
		PublicKeys: append([]string(nil), p.PublicKeys...),
	}
}
