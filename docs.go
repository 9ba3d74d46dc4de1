// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capauth (client authentication packages) drives OAuth2 and OpenID Connect
// authorization flows from the client side: building authorization
// requests, carrying them out through redirects, popups, tabs, hidden
// frames or a loopback listener, validating the responses and attaching the
// resulting tokens to outgoing requests.
//
// The orchestrator package ties providers (package oidc) and handlers
// (package handler) together and resumes flows that navigated the whole
// document away. Package config builds all of it from a YAML file and
// cmd/capauth exposes it as a command line tool.
package capauth
