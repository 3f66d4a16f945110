package keyserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"filippo.io/age"

	"reader/internal/access"
	"reader/internal/access/middleware"
	"reader/internal/domain"
)

const maxRequestBytes = 1 << 20

// Handler serves one key server's share endpoint. It expects to run behind
// middleware.Auth: the requester is the identity that middleware verified,
// never a value from the request body.
type Handler struct {
	name     string
	identity age.Identity
	policy   Policy
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewHandler creates the HTTP handler for the key server called name.
// Shares are opened with identity and released only when policy allows.
func NewHandler(name string, identity age.Identity, policy Policy, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{name: name, identity: identity, policy: policy, logger: logger, mux: http.NewServeMux()}
	h.mux.Handle("POST /v1/shares", middleware.TagRoute(http.HandlerFunc(h.releaseShare)))
	h.mux.Handle("GET /healthz", middleware.TagRoute(http.HandlerFunc(h.healthz)))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) releaseShare(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed share request")
		return
	}
	if req.ContentID == "" || len(req.Sealed) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "content_id and sealed are required")
		return
	}

	cred, err := req.Credential.Decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	requester := access.IdentityFromContext(r.Context())
	if cred.Kind() != domain.KindNone && !requester.Present() {
		w.Header().Set("WWW-Authenticate", `Bearer realm="keyserver"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", "a credential requires an authenticated requester")
		return
	}

	share, err := openShare(h.identity, req.Sealed)
	if err != nil {
		h.logger.Warn("share could not be opened", "server", h.name, "content_id", req.ContentID, "error", err)
		writeError(w, http.StatusBadRequest, "bad_request", "share is not addressed to this server")
		return
	}
	defer clear(share.Y)
	if share.ContentID != req.ContentID {
		h.logger.Warn("share replayed under different content id",
			"server", h.name,
			"content_id", req.ContentID,
			"sealed_for", share.ContentID,
			"requester", requester.String(),
		)
		writeError(w, http.StatusConflict, "content_mismatch", "share was sealed for other content")
		return
	}

	if err := h.policy.Authorize(r.Context(), req.ContentID, requester, cred); err != nil {
		if errors.Is(err, domain.ErrAuthorizationDenied) {
			h.logger.Info("share withheld",
				"server", h.name,
				"content_id", req.ContentID,
				"requester", requester.String(),
				"credential", cred.Kind().String(),
			)
			writeError(w, http.StatusForbidden, "forbidden", "credential does not grant access")
			return
		}
		h.logger.Error("authorization check failed", "server", h.name, "content_id", req.ContentID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "authorization backend unavailable")
		return
	}

	h.logger.Debug("share released", "server", h.name, "content_id", req.ContentID, "requester", requester.String())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ShareResponse{X: share.X, Y: share.Y}); err != nil {
		h.logger.Error("encoding share response", "error", err)
	}
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok", "server": h.name}); err != nil {
		h.logger.Error("encoding healthz response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{Error: code, Message: msg}); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
