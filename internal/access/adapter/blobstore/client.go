package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reader/internal/domain"
)

// DefaultMaxBytes caps a fetched blob when no limit is configured.
const DefaultMaxBytes = 32 << 20

// Client fetches blobs from a remote store over HTTP.
type Client struct {
	baseURL    string
	maxBytes   int64
	httpClient *http.Client
}

// NewClient creates a blob store client. Zero timeout and maxBytes take
// defaults of 10s and DefaultMaxBytes.
func NewClient(baseURL string, timeout time.Duration, maxBytes int64) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxBytes:   maxBytes,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads the blob for ref. Missing blobs and transport failures
// wrap domain.ErrUnavailable; an oversized payload is domain.ErrCorrupt.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/blobs/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching blob %q: %w: %w", ref, domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("blob %q: %w: %w", ref, domain.ErrUnavailable, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("blob store returned %d for %q: %w", resp.StatusCode, ref, domain.ErrUnavailable)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("%w: blob %q is %d bytes, limit %d", domain.ErrCorrupt, ref, resp.ContentLength, c.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading blob %q: %w: %w", ref, domain.ErrUnavailable, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: blob %q exceeds %d bytes", domain.ErrCorrupt, ref, c.maxBytes)
	}
	return data, nil
}

// Put uploads data and returns the reference the store assigned.
func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/v1/blobs", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading blob: %w: %w", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("blob store returned %d on upload: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	return out.Ref, nil
}

type putResponse struct {
	Ref  string `json:"ref"`
	Size int    `json:"size"`
}
