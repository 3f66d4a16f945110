package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reader/internal/domain"
)

// GenerateTestKeyPair generates an RSA key pair for testing.
// Returns (keyID, privateKey, publicKey).
func GenerateTestKeyPair(t *testing.T) (string, *rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	kid := fmt.Sprintf("test-key-%d", time.Now().UnixNano())
	return kid, priv, &priv.PublicKey
}

// IssueIdentityToken creates a signed JWT whose subject is the identity.
// A negative ttl produces an already-expired token.
func IssueIdentityToken(t *testing.T, kid string, priv *rsa.PrivateKey, id domain.Identity, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"iss": "reader-test",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// Issuer signs identity tokens and serves as the KeyProvider that verifies
// them, without a JWKS round trip.
type Issuer struct {
	kid  string
	priv *rsa.PrivateKey
}

// NewIssuer creates an issuer with a fresh key pair.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()
	kid, priv, _ := GenerateTestKeyPair(t)
	return &Issuer{kid: kid, priv: priv}
}

// GetKey implements access.KeyProvider.
func (i *Issuer) GetKey(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if kid != i.kid {
		return nil, domain.ErrInvalidToken
	}
	return &i.priv.PublicKey, nil
}

// Token returns a token for id valid for 15 minutes.
func (i *Issuer) Token(t *testing.T, id domain.Identity) string {
	t.Helper()
	return IssueIdentityToken(t, i.kid, i.priv, id, 15*time.Minute)
}

// Identity returns a valid identity address whose last byte is n.
func Identity(n byte) domain.Identity {
	return domain.Identity(fmt.Sprintf("0x%s%02x", strings.Repeat("0", 62), n))
}

// MockJWKSHandler returns an http.Handler that serves a JWKS response
// containing the given public key.
func MockJWKSHandler(kid string, pub *rsa.PublicKey) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64URLEncode(pub.N.Bytes()),
					"e":   base64URLEncode(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
