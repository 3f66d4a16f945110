package domain

import "errors"

// Sentinel errors used across adapter and pipeline boundaries.
var (
	ErrUnavailable         = errors.New("unavailable")
	ErrThresholdUnmet      = errors.New("threshold unmet")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrContentMismatch     = errors.New("content id mismatch")
	ErrCorrupt             = errors.New("corrupt content")
	ErrIdentityRequired    = errors.New("identity required")
	ErrNotFound            = errors.New("not found")
	ErrInvalidDescriptor   = errors.New("invalid content descriptor")
	ErrInvalidIdentity     = errors.New("invalid identity")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidToken        = errors.New("invalid token")
	ErrRateLimited         = errors.New("rate limited")
)

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// TokenPair is returned by the development identity issuer.
type TokenPair struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
