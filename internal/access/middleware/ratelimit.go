package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"reader/internal/access"
	"reader/internal/domain"
	"reader/internal/platform/telemetry"
)

// RateLimit returns middleware that enforces per-reader rate limits. An
// authenticated request is keyed by identity, an anonymous one by client
// IP, so it must run after Auth. The metrics parameter is optional.
func RateLimit(limiter access.RateLimiter, m *telemetry.ReaderMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, layer := "ip:"+clientIP(r), "ip"
			if id := access.IdentityFromContext(r.Context()); id.Present() {
				key, layer = "id:"+id.String(), "identity"
			}

			result := limiter.Allow(key)
			if m != nil {
				decision := "allowed"
				if !result.Allowed {
					decision = "denied"
				}
				m.RecordRateLimitDecision(r.Context(), layer, decision)
			}
			if !result.Allowed {
				writeRateLimitError(w, result.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For is client-controlled; only RemoteAddr is trusted.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	secs := retryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, domain.ErrorResponse{
		Error:      "rate_limited",
		Message:    "too many requests",
		RetryAfter: secs,
	})
}
