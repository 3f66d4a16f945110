package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reader/internal/access"
	"reader/internal/domain"
	"reader/internal/platform/telemetry"
)

const maxClockSkew = 30 * time.Second

// Auth returns a middleware that resolves the reader identity from an
// optional Bearer token. Requests without an Authorization header pass
// through anonymously; a header that is present but does not carry a
// valid RS256 token whose subject parses as an identity is rejected
// with 401.
func Auth(keys access.KeyProvider, m *telemetry.ReaderMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				recordAuth(r, m, "anonymous")
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(r)
			if !ok {
				recordAuth(r, m, "failure")
				writeAuthError(w, "malformed authorization header")
				return
			}

			// Only RS256 is accepted, so a token cannot pick its own algorithm.
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				kid, ok := t.Header["kid"].(string)
				if !ok {
					return nil, domain.ErrInvalidToken
				}
				return keys.GetKey(r.Context(), kid)
			},
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithLeeway(maxClockSkew),
				jwt.WithExpirationRequired(),
			)
			if err != nil || !token.Valid {
				slog.Debug("auth validation failed", "error", err)
				recordAuth(r, m, "failure")
				writeAuthError(w, "invalid or expired token")
				return
			}

			id, err := extractIdentity(token.Claims)
			if err != nil {
				slog.Debug("extracting identity", "error", err)
				recordAuth(r, m, "failure")
				writeAuthError(w, "invalid token subject")
				return
			}

			recordAuth(r, m, "success")
			if info := infoFrom(r.Context()); info != nil {
				info.setIdentity(id)
			}
			ctx := access.ContextWithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(access.ContextWithBearerToken(ctx, tokenStr)))
		})
	}
}

func recordAuth(r *http.Request, m *telemetry.ReaderMetrics, result string) {
	if m != nil {
		m.RecordAuthValidation(r.Context(), result)
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func extractIdentity(claims jwt.Claims) (domain.Identity, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.NoIdentity, domain.ErrInvalidToken
	}
	return domain.ParseIdentity(sub)
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="reader"`)
	writeError(w, http.StatusUnauthorized, domain.ErrorResponse{
		Error:   "unauthorized",
		Message: msg,
	})
}
