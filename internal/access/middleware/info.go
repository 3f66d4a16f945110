package middleware

import (
	"context"
	"net/http"
	"sync"

	"reader/internal/domain"
)

// requestInfo lets the outer Logging and Metrics middleware see what inner
// layers learned about the request: the authenticated identity and the
// matched route pattern.
type requestInfo struct {
	mu       sync.Mutex
	identity domain.Identity
	route    string
}

func (i *requestInfo) setIdentity(id domain.Identity) {
	i.mu.Lock()
	i.identity = id
	i.mu.Unlock()
}

func (i *requestInfo) setRoute(route string) {
	i.mu.Lock()
	i.route = route
	i.mu.Unlock()
}

func (i *requestInfo) snapshot() (domain.Identity, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	route := i.route
	if route == "" {
		route = "unmatched"
	}
	return i.identity, route
}

type infoKey struct{}

// withInfo returns r carrying a requestInfo, reusing one an outer layer
// already attached.
func withInfo(r *http.Request) (*http.Request, *requestInfo) {
	if info := infoFrom(r.Context()); info != nil {
		return r, info
	}
	info := &requestInfo{}
	return r.WithContext(context.WithValue(r.Context(), infoKey{}, info)), info
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(infoKey{}).(*requestInfo)
	return info
}

// TagRoute records the mux pattern that matched r for Logging and Metrics.
// Wrap each routed handler with it, since the pattern is only known after
// the mux has dispatched.
func TagRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info := infoFrom(r.Context()); info != nil {
			info.setRoute(r.Pattern)
		}
		next.ServeHTTP(w, r)
	})
}
