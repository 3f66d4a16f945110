package middleware

import (
	"net/http"
	"time"

	"reader/internal/access"
	"reader/internal/platform/telemetry"
)

// Metrics returns middleware that records HTTP request metrics labelled by
// route pattern. Place it outermost to capture the full request lifecycle.
func Metrics(m *telemetry.ReaderMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &access.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			r, info := withInfo(r)

			next.ServeHTTP(sw, r)

			_, route := info.snapshot()
			m.RecordHTTPRequest(r.Context(), r.Method, route, sw.Code, time.Since(start).Seconds())
		})
	}
}
