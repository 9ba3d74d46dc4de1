// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/capauth/config"
	"github.com/hashicorp/capauth/handler"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/orchestrator"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

// exit codes
const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
)

// ConfigEnv overrides the default configuration path.
const ConfigEnv = "CAPAUTH_CONFIG"

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, orchestrator.ErrLoginRequired), errors.Is(err, orchestrator.ErrAutoUnsupported):
		return ExitCodeAuthRequired
	case errors.Is(err, oidc.ErrAuthorizationFailed),
		errors.Is(err, oidc.ErrInvalidState),
		errors.Is(err, oidc.ErrInvalidNonce),
		errors.Is(err, oidc.ErrInvalidIdToken),
		errors.Is(err, handler.ErrCallbackTimeout),
		errors.Is(err, handler.ErrUserCancelled):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

func defaultConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "capauth.yaml"
	}
	return filepath.Join(home, ".capauth", "config.yaml")
}

// app carries the global flags and the collaborators commands share.
type app struct {
	configPath string
	logLevel   string

	// openURL launches the system browser; nil uses the platform default.
	openURL func(string) error

	logger hclog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "capauth",
		Short: "Log in to OAuth2 and OpenID Connect providers from a terminal",
		Long: `capauth runs the authorization flows of the providers listed in its
configuration file through the system browser, keeps the resulting tokens in
the configured store and attaches them to outgoing requests.

Examples:
  capauth login corp                        # log in through the default handler
  capauth token corp                        # print the current access token
  capauth request https://api.example.com/  # send an authenticated request
  capauth logout corp`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := hclog.LevelFromString(a.logLevel)
			if level == hclog.NoLevel {
				return fmt.Errorf("unknown log level %q", a.logLevel)
			}
			a.logger = hclog.New(&hclog.LoggerOptions{
				Name:   "capauth",
				Level:  level,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "configuration file (env "+ConfigEnv+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: trace, debug, info, warn or error")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newTokenCmd(a),
		newRequestCmd(a),
		newStatusCmd(a),
	)
	return root
}

// session is one loaded configuration with a running orchestrator.
type session struct {
	stack *config.Stack
	orch  *orchestrator.Orchestrator
}

func (a *app) open(ctx context.Context) (*session, error) {
	f, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	logger := a.logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	stack, err := config.Build(ctx, f, config.Host{}, config.WithLogger(logger), config.WithBrowserOpener(a.openURL))
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(ctx, stack.Config, orchestrator.WithLogger(logger))
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	select {
	case <-o.Ready():
	case <-ctx.Done():
		o.Done()
		_ = stack.Close()
		return nil, ctx.Err()
	}
	return &session{stack: stack, orch: o}, nil
}

func (s *session) close() {
	s.orch.Done()
	_ = s.stack.Close()
}

func (s *session) provider(name string) (*oidc.Provider, error) {
	p, ok := s.stack.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, orchestrator.ErrInvalidProvider)
	}
	return p, nil
}
