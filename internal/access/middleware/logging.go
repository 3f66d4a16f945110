package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"reader/internal/access"
)

// Logging returns a middleware that logs each request using slog.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &access.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			r, info := withInfo(r)

			next.ServeHTTP(sw, r)

			identity, route := info.snapshot()
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"request_id", access.RequestIDFromContext(r.Context()),
				"identity", identity.String(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
