package access

import (
	"context"
	"crypto/rsa"
	"net/http"
	"time"

	"reader/internal/domain"
)

// Ledger reads authorization records. Each lookup reports found, not found
// (false, nil), or a failure wrapping domain.ErrUnavailable.
type Ledger interface {
	FindOwnerCapability(ctx context.Context, id domain.Identity, ownerID string) (domain.OwnerCredential, bool, error)
	IsContributor(ctx context.Context, id domain.Identity, ownerID string) (bool, error)
	// FindActiveSubscription ignores subscriptions that have already expired.
	FindActiveSubscription(ctx context.Context, id domain.Identity, ownerID string) (domain.SubscriptionCredential, bool, error)
	FindCollectible(ctx context.Context, id domain.Identity, contentID string) (domain.CollectibleCredential, bool, error)
}

// BlobStore retrieves content-addressed payloads.
type BlobStore interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Decrypter is the threshold decryption capability. Failures wrap
// domain.ErrThresholdUnmet, domain.ErrAuthorizationDenied,
// domain.ErrContentMismatch or domain.ErrCorrupt.
type Decrypter interface {
	Decrypt(ctx context.Context, req domain.DecryptionRequest) ([]byte, error)
}

// CredentialResolver picks the single best credential for a reader.
type CredentialResolver interface {
	Resolve(ctx context.Context, id domain.Identity, ownerID, contentID string) (domain.AccessCredential, error)
}

// MetadataProvider maps a human-facing slug to a content descriptor.
type MetadataProvider interface {
	Describe(ctx context.Context, slug string) (domain.ContentDescriptor, error)
}

// KeyProvider fetches and caches public keys used to verify identity tokens.
type KeyProvider interface {
	// GetKey returns the public key for the given key ID.
	GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// RateLimiter decides whether a request identified by key should be allowed.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration // zero if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// IdentityFromContext returns the authenticated reader identity, or
// domain.NoIdentity for anonymous requests.
func IdentityFromContext(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey{}).(domain.Identity)
	return id
}

// ContextWithIdentity stores the authenticated identity in the context.
func ContextWithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

type identityKey struct{}

// BearerTokenFromContext returns the verified token the identity was taken
// from, or "" for anonymous requests.
func BearerTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(bearerTokenKey{}).(string)
	return tok
}

// ContextWithBearerToken stores the verified token so it can be forwarded
// to services that authenticate the reader themselves.
func ContextWithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

type bearerTokenKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
