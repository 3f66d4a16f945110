// Command mockidentity is a development token issuer. It signs an RS256
// identity token for any well-formed reader address and serves the
// matching JWKS.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reader/internal/domain"
	"reader/internal/platform/server"
)

const tokenTTL = 15 * time.Minute

func main() {
	addr := envOr("IDENTITY_ADDR", ":8081")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	kid := fmt.Sprintf("mock-key-%d", time.Now().Unix())

	slog.Info("mock identity service starting", "addr", addr, "kid", kid)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		pub := &priv.PublicKey
		writeJSON(w, http.StatusOK, map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		})
	})

	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "bad_request", Message: "invalid JSON body"})
			return
		}
		id, err := domain.ParseIdentity(req.Identity)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "bad_request", Message: "identity must be 0x followed by 64 hex digits"})
			return
		}

		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub": id.String(),
			"iat": now.Unix(),
			"exp": now.Add(tokenTTL).Unix(),
			"iss": "mock-identity",
		})
		token.Header["kid"] = kid

		signed, err := token.SignedString(priv)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal_error", Message: "failed to sign token"})
			return
		}
		slog.Info("issued token", "identity", id.String())
		writeJSON(w, http.StatusOK, domain.TokenPair{
			AccessToken: signed,
			ExpiresIn:   int(tokenTTL.Seconds()),
			TokenType:   "Bearer",
		})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mock-identity"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.New("mockidentity", addr, mux).Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
