package keyserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reader/internal/access"
	"reader/internal/domain"
	"reader/internal/shamir"
)

const maxResponseBytes = 64 << 10

// Client talks to a single key server.
type Client struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the key server called name at baseURL.
// A zero timeout defaults to 5s.
func NewClient(name, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		name:       name,
		endpoint:   strings.TrimRight(baseURL, "/") + "/v1/shares",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the server name shares are addressed to.
func (c *Client) Name() string { return c.name }

// RequestShare asks the server to release its share, forwarding the
// reader's bearer token from ctx. Denials wrap domain.ErrAuthorizationDenied,
// a rejected or missing token wraps domain.ErrIdentityRequired, content ID
// conflicts wrap domain.ErrContentMismatch, and everything else wraps
// domain.ErrUnavailable.
func (c *Client) RequestShare(ctx context.Context, sr ShareRequest) (shamir.Share, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return shamir.Share{}, fmt.Errorf("encoding share request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return shamir.Share{}, fmt.Errorf("creating share request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := access.BearerTokenFromContext(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return shamir.Share{}, ctx.Err()
		}
		return shamir.Share{}, fmt.Errorf("key server %s: %w: %w", c.name, domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return shamir.Share{}, fmt.Errorf("key server %s: %w", c.name, domain.ErrIdentityRequired)
	case http.StatusForbidden:
		return shamir.Share{}, fmt.Errorf("key server %s: %w", c.name, domain.ErrAuthorizationDenied)
	case http.StatusConflict:
		return shamir.Share{}, fmt.Errorf("key server %s: %w", c.name, domain.ErrContentMismatch)
	default:
		return shamir.Share{}, fmt.Errorf("key server %s returned %d: %w", c.name, resp.StatusCode, domain.ErrUnavailable)
	}

	var out ShareResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return shamir.Share{}, fmt.Errorf("key server %s: decoding share: %w: %w", c.name, domain.ErrUnavailable, err)
	}
	return shamir.Share{X: out.X, Y: out.Y}, nil
}
