// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestGenerateKeys returns a fresh ECDSA P-256 key pair, PEM encoded: the
// public key as PKIX and the private key as SEC 1.
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	privDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(key.Public())
	require.NoError(t, err)
	return encodePEM("PUBLIC KEY", pubDER), encodePEM("EC PRIVATE KEY", privDER)
}

func encodePEM(blockType string, der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}

// TestSignJWT signs claims merged with privateClaims as an ES256 JWT with
// the PEM encoded ECDSA key from TestGenerateKeys.
func TestSignJWT(t *testing.T, ecdsaPrivKeyPEM string, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	block, _ := pem.Decode([]byte(ecdsaPrivKeyPEM))
	require.NotNil(t, block, "private key is not PEM encoded")
	key, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)
	raw, err := jwt.Signed(signer).Claims(claims).Claims(privateClaims).CompactSerialize()
	require.NoError(t, err)
	return raw
}

// TestIDToken signs an id_token for clientID carrying nonce which expires
// expireIn from now. additionalClaims are merged into the payload.
func TestIDToken(t *testing.T, ecdsaPrivKeyPEM, clientID, nonce string, expireIn time.Duration, additionalClaims map[string]interface{}) string {
	t.Helper()
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    "https://example.com/",
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(expireIn)),
		Audience:  []string{clientID},
		Subject:   "alice@example.com",
	}
	privateClaims := map[string]interface{}{
		"nonce": nonce,
	}
	for k, v := range additionalClaims {
		privateClaims[k] = v
	}
	return TestSignJWT(t, ecdsaPrivKeyPEM, claims, privateClaims)
}

// TestUnsignedToken encodes claims as the middle segment of a token whose
// header and signature segments are placeholders. Signature verification
// must be disabled to validate it.
func TestUnsignedToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return "0." + base64.RawURLEncoding.EncodeToString(payload) + ".0"
}

// TestGenerateCA returns a self signed CA certificate, PEM encoded and
// valid for two minutes, covering hosts (DNS names or IP addresses).
func TestGenerateCA(t *testing.T, hosts []string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"capauth test"}},
		NotBefore:             now,
		NotAfter:              now.Add(2 * time.Minute),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return encodePEM("CERTIFICATE", der)
}
