// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
)

// TestProvider is a local identity provider supporting the implicit flow,
// which makes writing tests much easier. It serves discovery, an
// authorization endpoint that answers immediately, a JWKS and an end session
// endpoint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	expectedAuthCode    string
	accessToken         string
	tokenExpiry         time.Duration
	customClaims        map[string]interface{}
	authError           string
	omitIDToken         bool
	authorizeRequests   []url.Values

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random port. It
// is stopped when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:         "test-client",
		accessToken:      "test-access-token",
		expectedAuthCode: "test-code",
		tokenExpiry:      time.Hour,
		t:                t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientID configures the client id the authorization endpoint accepts
// and the id_token audience.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetAllowedRedirectURIs restricts the accepted redirect URIs. Any redirect
// URI is accepted when none are configured.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedAuthCode configures the code returned for "code" responses.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAccessToken configures the access_token returned for "token"
// responses.
func (p *TestProvider) SetAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = token
}

// SetTokenExpiry configures both the id_token lifetime and expires_in.
func (p *TestProvider) SetTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenExpiry = d
}

// SetCustomClaims lets you set claims to return in the issued id_token.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetAuthError makes the authorization endpoint answer with the given oauth
// error code. An empty code restores normal responses.
func (p *TestProvider) SetAuthError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = code
}

// OmitIDTokens forces an error state where id_token responses lack the
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// AuthorizeRequests returns the query of every authorization request so far.
func (p *TestProvider) AuthorizeRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.authorizeRequests...)
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// HTTPClient returns a client that trusts the provider and does not follow
// redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

// Authorize sends authURL to the provider like a browser would and returns
// the location it redirects to.
func (p *TestProvider) Authorize(authURL string) (string, error) {
	resp, err := p.HTTPClient().Get(authURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("authorize: unexpected status %d: %s", resp.StatusCode, body)
	}
	return resp.Header.Get("Location"), nil
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// redirect returns the response to redirectURI in the fragment, or the
// query for code responses and response_mode=query.
func (p *TestProvider) redirect(w http.ResponseWriter, req *http.Request, redirectURI string, qv, resp url.Values) {
	sep := "#"
	if qv.Get("response_mode") == "query" || qv.Get("response_type") == ResponseTypeCode {
		sep = "?"
		if strings.Contains(redirectURI, "?") {
			sep = "&"
		}
	}
	http.Redirect(w, req, redirectURI+sep+resp.Encode(), http.StatusFound)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			EndSessionEndpoint string   `json:"end_session_endpoint"`
			ResponseTypes      []string `json:"response_types_supported"`
			SigningAlgs        []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/authorize",
			JWKSURI:            p.Addr() + "/certs",
			EndSessionEndpoint: p.Addr() + "/logout",
			ResponseTypes:      []string{"code", "token", "id_token", "id_token token"},
			SigningAlgs:        []string{"ES256"},
		}
		_ = p.writeJSON(w, &reply)

	case "/authorize":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		p.authorizeRequests = append(p.authorizeRequests, qv)

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			http.Error(w, "missing redirect_uri parameter", http.StatusBadRequest)
			return
		}
		if len(p.allowedRedirectURIs) > 0 && !contains(p.allowedRedirectURIs, redirectURI) {
			http.Error(w, "redirect_uri is not allowed", http.StatusBadRequest)
			return
		}
		resp := url.Values{"state": {qv.Get("state")}}
		fail := func(code string) {
			resp.Set("error", code)
			p.redirect(w, req, redirectURI, qv, resp)
		}
		switch {
		case p.authError != "":
			fail(p.authError)
			return
		case qv.Get("client_id") != p.clientID:
			fail("unauthorized_client")
			return
		case qv.Get("state") == "":
			fail("invalid_request")
			return
		}
		for _, rt := range strings.Fields(qv.Get("response_type")) {
			switch rt {
			case ResponseTypeCode:
				resp.Set("code", p.expectedAuthCode)
			case ResponseTypeToken:
				resp.Set("access_token", p.accessToken)
				resp.Set("token_type", "Bearer")
				resp.Set("expires_in", strconv.Itoa(int(p.tokenExpiry.Seconds())))
			case ResponseTypeIDToken:
				if !contains(strings.Fields(qv.Get("scope")), ScopeOpenID) {
					fail("invalid_scope")
					return
				}
				if !p.omitIDToken {
					resp.Set("id_token", TestIDToken(p.t, p.ecdsaPrivateKey, p.clientID, qv.Get("nonce"), p.tokenExpiry, p.customClaims))
				}
			default:
				fail("unsupported_response_type")
				return
			}
		}
		p.redirect(w, req, redirectURI, qv, resp)

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/logout":
		if target := req.URL.Query().Get("post_logout_redirect_uri"); target != "" {
			http.Redirect(w, req, target, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}
