// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package keyset verifies the signatures of ID tokens returned to a
// provider. Keys come from the issuer's discovery document, an explicit
// JWKS URL, or PEM encoded public keys.
package keyset

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	sdkhttp "github.com/hashicorp/capauth/sdk/http"
	"gopkg.in/square/go-jose.v2/jwt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrDiscoveryFailed  = errors.New("discovery failed")
)

// SupportedAlgorithms are the JWS algorithms accepted when verifying.
var SupportedAlgorithms = []string{
	oidc.RS256, oidc.RS384, oidc.RS512,
	oidc.ES256, oidc.ES384, oidc.ES512,
	oidc.PS256, oidc.PS384, oidc.PS512,
}

// KeySet represents a set of keys that can be used to verify the signatures
// of JWTs.
type KeySet interface {
	// VerifySignature parses the given JWT, verifies its signature, and
	// returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// DiscoveryKeySet verifies signatures with the keys published by an oidc
// issuer.
type DiscoveryKeySet struct {
	verifier *oidc.IDTokenVerifier
}

// NewDiscoveryKeySet returns a KeySet for an already discovered provider.
// Only the signature is checked; issuer, audience and expiry are left to the
// caller.
func NewDiscoveryKeySet(p *oidc.Provider) (*DiscoveryKeySet, error) {
	const op = "keyset.NewDiscoveryKeySet"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrInvalidParameter)
	}
	return &DiscoveryKeySet{verifier: p.Verifier(&oidc.Config{
		SupportedSigningAlgs: SupportedAlgorithms,
		SkipClientIDCheck:    true,
		SkipExpiryCheck:      true,
		SkipIssuerCheck:      true,
	})}, nil
}

// NewOIDCDiscoveryKeySet discovers issuer and returns its KeySet. The client
// verifies server certificates with caPEM when it is set.
func NewOIDCDiscoveryKeySet(ctx context.Context, issuer, caPEM string) (*DiscoveryKeySet, error) {
	const op = "keyset.NewOIDCDiscoveryKeySet"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	client, err := sdkhttp.NewClient(caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(sdkhttp.ClientContext(ctx, client), issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrDiscoveryFailed, err)
	}
	return NewDiscoveryKeySet(p)
}

// VerifySignature implements KeySet.
func (ks *DiscoveryKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "keyset.(DiscoveryKeySet).VerifySignature"
	idToken, err := ks.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidSignature, err)
	}
	claims := map[string]interface{}{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %w", op, err)
	}
	return claims, nil
}

// JSONWebKeySet verifies signatures with keys fetched from a JWKS URL.
type JSONWebKeySet struct {
	remote *oidc.RemoteKeySet
}

// NewJSONWebKeySet returns a KeySet backed by the JWKS at jwksURL. Keys are
// fetched lazily, using a client that trusts caPEM when it is set. The
// context carries that client for the lifetime of the key set.
func NewJSONWebKeySet(ctx context.Context, jwksURL, caPEM string) (*JSONWebKeySet, error) {
	const op = "keyset.NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks url is empty: %w", op, ErrInvalidParameter)
	}
	client, err := sdkhttp.NewClient(caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &JSONWebKeySet{remote: oidc.NewRemoteKeySet(sdkhttp.ClientContext(ctx, client), jwksURL)}, nil
}

// VerifySignature implements KeySet.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "keyset.(JSONWebKeySet).VerifySignature"
	payload, err := ks.remote.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidSignature, err)
	}
	claims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %w", op, err)
	}
	return claims, nil
}

// StaticKeySet verifies signatures with local public keys.
type StaticKeySet struct {
	publicKeys []interface{}
}

// NewStaticKeySet returns a KeySet for PEM encoded x509 certificates or PKIX
// public keys.
func NewStaticKeySet(publicKeys []string) (*StaticKeySet, error) {
	const op = "keyset.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	parsed := make([]interface{}, 0, len(publicKeys))
	for i, k := range publicKeys {
		key, err := ParsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: key %d: %w", op, i, err)
		}
		parsed = append(parsed, key)
	}
	return &StaticKeySet{publicKeys: parsed}, nil
}

// VerifySignature implements KeySet.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	const op = "keyset.(StaticKeySet).VerifySignature"
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidSignature, err)
	}
	for _, key := range ks.publicKeys {
		claims := map[string]interface{}{}
		if err := parsed.Claims(key, &claims); err == nil {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("%s: no known key validated the token: %w", op, ErrInvalidSignature)
}

// ParsePublicKeyPEM parses an RSA or ECDSA public key, or the key of an x509
// certificate.
func ParsePublicKeyPEM(data []byte) (interface{}, error) {
	const op = "keyset.ParsePublicKeyPEM"
	block, _ := pem.Decode([]byte(strings.TrimSpace(string(data))))
	if block == nil {
		return nil, fmt.Errorf("%s: no pem block: %w", op, ErrInvalidPublicKey)
	}
	rawKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidPublicKey, err)
		}
		rawKey = cert.PublicKey
	}
	switch k := rawKey.(type) {
	case *rsa.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		return k, nil
	}
	return nil, fmt.Errorf("%s: not an rsa or ecdsa key: %w", op, ErrInvalidPublicKey)
}
