package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"reader/internal/access/middleware"
	"reader/internal/domain"
)

// Store is what the HTTP handler serves.
type Store interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, data []byte) (string, error)
}

// Handler exposes a Store over GET /v1/blobs/{ref} and PUT /v1/blobs.
type Handler struct {
	store    Store
	maxBytes int64
	mux      *http.ServeMux
}

// NewHandler serves store, rejecting uploads larger than maxBytes.
func NewHandler(store Store, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	h := &Handler{store: store, maxBytes: maxBytes, mux: http.NewServeMux()}
	h.handle("GET /v1/blobs/{ref}", h.get)
	h.handle("PUT /v1/blobs", h.put)
	h.handle("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	h.mux.Handle(pattern, middleware.TagRoute(fn))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	data, err := h.store.Fetch(r.Context(), ref)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, domain.ErrorResponse{Error: "not_found", Message: "no such blob"})
		return
	default:
		slog.Error("fetching blob", "ref", ref, "error", err)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal", Message: "blob could not be read"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing blob", "ref", ref, "error", err)
	}
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, domain.ErrorResponse{Error: "too_large", Message: "blob exceeds size limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "bad_request", Message: "could not read body"})
		return
	}
	ref, err := h.store.Put(r.Context(), data)
	if err != nil {
		slog.Error("storing blob", "error", err)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal", Message: "blob could not be stored"})
		return
	}
	writeJSON(w, http.StatusCreated, putResponse{Ref: ref, Size: len(data)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
