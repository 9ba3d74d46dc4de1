// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package oidc implements the client side protocol logic for one identity
// provider, speaking either OpenID Connect (Kind "openid") or plain OAuth2
// (Kind "oauth2").
//
// A Provider builds authorization URLs carrying fresh anti-replay state,
// validates the response parameters a handler brings back, keeps the
// resulting tokens in a storage.Store and decides, per outgoing request,
// whether a valid bearer token can be attached or an interactive login is
// required. Expired access tokens are renewed unattended through a renewer
// handler (usually a hidden frame) when renewal is automatic.
//
// Every validation outcome is delivered to the provider's login listeners,
// so observers are notified even when the flow resumed in a later process
// and no caller is waiting for the result.
package oidc
