// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/capauth/interceptor"
	"github.com/hashicorp/capauth/oidc"
	"github.com/hashicorp/capauth/orchestrator"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var handlerName, loginHint string
	cmd := &cobra.Command{
		Use:   "login PROVIDER",
		Short: "Log in to a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			var authOpts []oidc.Option
			if loginHint != "" {
				authOpts = append(authOpts, oidc.WithLoginHint(loginHint))
			}
			payload, err := s.orch.Login(cmd.Context(), args[0],
				orchestrator.WithHandler(handlerName),
				orchestrator.WithAuthorizationOptions(authOpts...))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if payload.IDToken != nil {
				fmt.Fprintf(out, "Logged in to %s as %s\n", args[0], payload.IDToken.Subject())
			} else {
				fmt.Fprintf(out, "Logged in to %s\n", args[0])
			}
			if exp := payload.AccessToken.Expiry(); !exp.IsZero() {
				fmt.Fprintf(out, "Access token expires at %s\n", exp.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&handlerName, "handler", "", "handler to log in with (default: the configured default)")
	cmd.Flags().StringVar(&loginHint, "login-hint", "", "login_hint sent to the provider")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	var handlerName string
	cmd := &cobra.Command{
		Use:   "logout PROVIDER",
		Short: "End the session with a provider and forget its tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.orch.Logout(cmd.Context(), args[0], orchestrator.WithHandler(handlerName)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&handlerName, "handler", "", "handler to log out with (default: the configured default)")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var idToken bool
	cmd := &cobra.Command{
		Use:   "token PROVIDER",
		Short: "Print the current access token, renewing it when possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			p, err := s.provider(args[0])
			if err != nil {
				return err
			}
			if idToken {
				t := p.IDToken()
				if t.Expired() {
					return fmt.Errorf("%s has no valid id_token: %w", args[0], orchestrator.ErrLoginRequired)
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Raw())
				return nil
			}
			decision, err := p.Secure(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if decision != oidc.Secured {
				return fmt.Errorf("%s: %w", args[0], orchestrator.ErrLoginRequired)
			}
			at := p.AccessToken().Raw()
			if at == "" {
				return fmt.Errorf("%s does not request an access_token, use --id-token", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), at)
			return nil
		},
	}
	cmd.Flags().BoolVar(&idToken, "id-token", false, "print the id_token instead")
	return cmd
}

func newRequestCmd(a *app) *cobra.Command {
	var method, data string
	var headers []string
	cmd := &cobra.Command{
		Use:   "request URL",
		Short: "Send a request, authenticated by every provider whose endpoints match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(method), args[0], body)
			if err != nil {
				return err
			}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("header %q is not in the form key: value", h)
				}
				req.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
			}

			tr, err := interceptor.NewTransport(s.stack.Config.Fetch, nil)
			if err != nil {
				return err
			}
			resp, err := tr.Client().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return err
			}
			if resp.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("%s %s: %s", req.Method, args[0], resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "request method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra header, may be repeated")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the configured providers and their tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tKIND\tID TOKEN\tACCESS TOKEN")
			for _, p := range s.stack.Config.Providers {
				op, err := s.provider(p.Name())
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", op.Name(), op.Kind(),
					describe(op.IDToken().Raw(), op.IDToken().Expiry()),
					describe(op.AccessToken().Raw(), op.AccessToken().Expiry()))
			}
			return w.Flush()
		},
	}
}

func describe(raw string, expiry time.Time) string {
	switch {
	case raw == "":
		return "none"
	case expiry.IsZero():
		return "valid"
	case time.Now().After(expiry):
		return "expired"
	default:
		return "until " + expiry.Format(time.RFC3339)
	}
}
