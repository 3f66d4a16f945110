// Package httpapi exposes the decryption pipeline to readers over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"reader/internal/access"
	"reader/internal/access/middleware"
	"reader/internal/domain"
)

const readinessTimeout = 2 * time.Second

// Loader is the part of the pipeline the HTTP surface drives. Status and
// cancellation are scoped to the caller's identity.
type Loader interface {
	LoadWithRetry(ctx context.Context, desc domain.ContentDescriptor, id domain.Identity, rp access.RetryPolicy) domain.Outcome
	StatusFor(contentID string, id domain.Identity) domain.PipelineState
	CancelFor(contentID string, id domain.Identity) bool
}

// Check is one readiness check, such as a database ping.
type Check func(ctx context.Context) error

// Options configures a Handler.
type Options struct {
	Retry  access.RetryPolicy
	Ready  map[string]Check
	Logger *slog.Logger
}

// Handler serves article reads, load status and cancellation.
type Handler struct {
	mux      *http.ServeMux
	metadata access.MetadataProvider
	loader   Loader
	retry    access.RetryPolicy
	ready    map[string]Check
	logger   *slog.Logger
}

// Article is the body of a successful article read.
type Article struct {
	Slug      string `json:"slug"`
	ContentID string `json:"content_id"`
	Encrypted bool   `json:"encrypted"`
	Body      string `json:"body"`
}

// LoadStatus reports the stage of an in-flight load.
type LoadStatus struct {
	ContentID string `json:"content_id"`
	State     string `json:"state"`
}

// New creates the reader HTTP handler.
func New(metadata access.MetadataProvider, loader Loader, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		mux:      http.NewServeMux(),
		metadata: metadata,
		loader:   loader,
		retry:    opts.Retry,
		ready:    opts.Ready,
		logger:   opts.Logger,
	}

	h.handle("GET /healthz", h.healthz)
	h.handle("GET /readyz", h.readyz)
	h.handle("GET /v1/articles/{slug}", h.article)
	h.handle("GET /v1/content/{contentID}/status", h.status)
	h.handle("DELETE /v1/content/{contentID}/load", h.cancel)
	return h
}

func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	h.mux.Handle(pattern, middleware.TagRoute(fn))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) article(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	desc, err := h.metadata.Describe(r.Context(), slug)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, domain.ErrorResponse{Error: "not_found", Message: "no such article"})
		return
	case err != nil:
		h.logger.Warn("describing article", "slug", slug, "error", err)
		h.writeFailure(w, domain.FailureUnavailable)
		return
	}

	id := access.IdentityFromContext(r.Context())
	out := h.loader.LoadWithRetry(r.Context(), desc, id, h.retry)
	if !out.OK() {
		h.writeFailure(w, out.Kind())
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, Article{
		Slug:      slug,
		ContentID: desc.ContentID,
		Encrypted: desc.IsEncrypted,
		Body:      out.Plaintext,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	contentID := r.PathValue("contentID")
	writeJSON(w, http.StatusOK, LoadStatus{
		ContentID: contentID,
		State:     h.loader.StatusFor(contentID, access.IdentityFromContext(r.Context())).String(),
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	contentID := r.PathValue("contentID")
	id := access.IdentityFromContext(r.Context())
	if !id.Present() {
		w.Header().Set("WWW-Authenticate", `Bearer realm="reader"`)
		writeError(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized", Message: "sign in to cancel a load"})
		return
	}
	if !h.loader.CancelFor(contentID, id) {
		writeError(w, http.StatusNotFound, domain.ErrorResponse{Error: "not_in_flight", Message: "no load of yours is running for this content"})
		return
	}
	h.logger.Info("load cancelled by request",
		"content_id", contentID,
		"identity", id.String(),
		"request_id", access.RequestIDFromContext(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range h.ready {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps a failure kind to the HTTP status a reader sees.
func statusFor(kind domain.FailureKind) int {
	switch kind {
	case domain.FailureIdentityRequired:
		return http.StatusUnauthorized
	case domain.FailureAuthorizationDenied:
		return http.StatusForbidden
	case domain.FailureUnavailable, domain.FailureThresholdUnmet:
		return http.StatusServiceUnavailable
	case domain.FailureCancelled:
		return http.StatusNoContent
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeFailure(w http.ResponseWriter, kind domain.FailureKind) {
	status := statusFor(kind)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	resp := domain.ErrorResponse{Error: kind.String(), Message: kind.Message()}
	if kind.Retryable() {
		resp.RetryAfter = h.retryAfter()
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	if kind == domain.FailureIdentityRequired {
		w.Header().Set("WWW-Authenticate", `Bearer realm="reader"`)
	}
	writeError(w, status, resp)
}

// retryAfter suggests waiting as long as the longest backoff step.
func (h *Handler) retryAfter() int {
	d := h.retry.Cap
	if d <= 0 {
		d = access.DefaultRetryPolicy.Cap
	}
	return max(1, int(math.Ceil(d.Seconds())))
}

func writeError(w http.ResponseWriter, status int, resp domain.ErrorResponse) {
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
