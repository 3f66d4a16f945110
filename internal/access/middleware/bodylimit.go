package middleware

import (
	"net/http"

	"reader/internal/domain"
)

// MaxBodySize returns middleware that limits request body size to maxBytes.
// A request whose declared Content-Length already exceeds the limit is
// refused with a JSON 413; other bodies are capped with
// http.MaxBytesReader, so handlers see *http.MaxBytesError on overrun.
func MaxBodySize(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, domain.ErrorResponse{
					Error:   "payload_too_large",
					Message: "request body too large",
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
