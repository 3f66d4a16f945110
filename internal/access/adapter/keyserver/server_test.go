package keyserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reader/internal/access/adapter/keyserver"
	"reader/internal/access/middleware"
	"reader/internal/domain"
	"reader/internal/testutil"
)

type policyFunc func(ctx context.Context, contentID string, requester domain.Identity, cred domain.AccessCredential) error

func (f policyFunc) Authorize(ctx context.Context, contentID string, requester domain.Identity, cred domain.AccessCredential) error {
	return f(ctx, contentID, requester, cred)
}

// postShare sends body to h, with token as the bearer credential when set.
func postShare(t *testing.T, h http.Handler, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/shares", &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerStatusCodes(t *testing.T) {
	iss := testutil.NewIssuer(t)
	token := iss.Token(t, testutil.Identity(1))
	ids, recipients := newIdentities(t, 2)
	sealedBlob, err := keyserver.Seal("c1", []byte("x"), 1, recipients)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	env, _ := keyserver.DecodeEnvelope(sealedBlob)
	mine, theirs := env.Shares[0].Sealed, env.Shares[1].Sealed

	valid := keyserver.ShareRequest{
		ContentID:  "c1",
		Credential: keyserver.EncodeCredential(owner),
		Sealed:     mine,
	}
	with := func(mut func(r *keyserver.ShareRequest)) keyserver.ShareRequest {
		r := valid
		mut(&r)
		return r
	}

	tests := []struct {
		name   string
		policy keyserver.Policy
		body   any
		want   int
	}{
		{"released", allowOwners, valid, http.StatusOK},
		{"malformed json", allowOwners, "{", http.StatusBadRequest},
		{"missing content id", allowOwners, with(func(r *keyserver.ShareRequest) { r.ContentID = "" }), http.StatusBadRequest},
		{"unknown credential kind", allowOwners, with(func(r *keyserver.ShareRequest) { r.Credential.Kind = "admin" }), http.StatusBadRequest},
		{"share for another server", allowOwners, with(func(r *keyserver.ShareRequest) { r.Sealed = theirs }), http.StatusBadRequest},
		{"content mismatch", allowOwners, with(func(r *keyserver.ShareRequest) { r.ContentID = "c2" }), http.StatusConflict},
		{"denied", denyAll, valid, http.StatusForbidden},
		{"policy backend down", policyFunc(func(context.Context, string, domain.Identity, domain.AccessCredential) error {
			return fmt.Errorf("ledger: %w", domain.ErrUnavailable)
		}), valid, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := authed(iss, keyserver.NewHandler(serverName(0), ids[0], tt.policy, nil))
			rec := postShare(t, h, token, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandlerReleasesMatchingShare(t *testing.T) {
	ids, recipients := newIdentities(t, 1)
	blob, _ := keyserver.Seal("c1", []byte("x"), 1, recipients)
	env, _ := keyserver.DecodeEnvelope(blob)

	iss := testutil.NewIssuer(t)
	var seen domain.AccessCredential
	h := authed(iss, keyserver.NewHandler(serverName(0), ids[0], policyFunc(func(_ context.Context, contentID string, requester domain.Identity, cred domain.AccessCredential) error {
		if contentID != "c1" || requester != testutil.Identity(4) {
			return domain.ErrAuthorizationDenied
		}
		seen = cred
		return nil
	}), nil))

	rec := postShare(t, h, iss.Token(t, testutil.Identity(4)), keyserver.ShareRequest{
		ContentID:  "c1",
		Credential: keyserver.EncodeCredential(domain.SubscriptionCredential{SubscriptionID: "s1", ServiceID: "svc"}),
		Sealed:     env.Shares[0].Sealed,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp keyserver.ShareResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.X != env.Shares[0].X || len(resp.Y) == 0 {
		t.Errorf("unexpected share x=%d len(y)=%d", resp.X, len(resp.Y))
	}
	if seen != (domain.SubscriptionCredential{SubscriptionID: "s1", ServiceID: "svc"}) {
		t.Errorf("policy saw %#v", seen)
	}
}

func TestHandlerIgnoresClaimedRequester(t *testing.T) {
	iss := testutil.NewIssuer(t)
	victim, attacker := testutil.Identity(8), testutil.Identity(9)
	ids, recipients := newIdentities(t, 1)
	blob, _ := keyserver.Seal("c1", []byte("x"), 1, recipients)
	env, _ := keyserver.DecodeEnvelope(blob)

	policy := keyserver.LedgerPolicy{
		Ledger: testutil.NewLedger().GrantContributor(victim, "pub-1"),
		Owners: owners{"c1": "pub-1"},
	}
	h := authed(iss, keyserver.NewHandler(serverName(0), ids[0], policy, nil))

	// The body names the victim; only the token decides who is asking.
	body := map[string]any{
		"content_id": "c1",
		"requester":  victim.String(),
		"credential": keyserver.EncodeCredential(domain.ContributorCredential{OwnerID: "pub-1"}),
		"sealed":     env.Shares[0].Sealed,
	}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"token from another issuer", testutil.NewIssuer(t).Token(t, victim), http.StatusUnauthorized},
		{"token for someone else", iss.Token(t, attacker), http.StatusForbidden},
		{"token for the holder", iss.Token(t, victim), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postShare(t, h, tt.token, body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandlerFreeContentNeedsNoToken(t *testing.T) {
	ids, recipients := newIdentities(t, 1)
	blob, _ := keyserver.Seal("free-1", []byte("x"), 1, recipients)
	env, _ := keyserver.DecodeEnvelope(blob)
	h := authed(testutil.NewIssuer(t), keyserver.NewHandler(serverName(0), ids[0], keyserver.KindPolicy{FreeContent: []string{"free-1"}}, nil))

	rec := postShare(t, h, "", keyserver.ShareRequest{
		ContentID:  "free-1",
		Credential: keyserver.EncodeCredential(domain.NoCredential{}),
		Sealed:     env.Shares[0].Sealed,
	})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerTagsRoutes(t *testing.T) {
	ids, _ := newIdentities(t, 1)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := middleware.Chain(keyserver.NewHandler(serverName(0), ids[0], allowOwners, nil), middleware.Logging(logger))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(logs.String(), `"route":"GET /healthz"`) {
		t.Errorf("expected the route pattern in the log, got %s", logs.String())
	}
}

func TestKindPolicy(t *testing.T) {
	p := keyserver.KindPolicy{
		OpenKinds:   []domain.CredentialKind{domain.KindOwner, domain.KindCollectible},
		FreeContent: []string{"free-1"},
	}
	u := testutil.Identity(1)
	tests := []struct {
		name      string
		contentID string
		requester domain.Identity
		cred      domain.AccessCredential
		allowed   bool
	}{
		{"open kind", "c1", u, owner, true},
		{"closed kind", "c1", u, domain.ContributorCredential{OwnerID: "pub-1"}, false},
		{"free content without credential", "free-1", domain.NoIdentity, domain.NoCredential{}, true},
		{"paid content without credential", "c1", u, domain.NoCredential{}, false},
		{"nil credential", "free-1", u, nil, true},
		{"credential without identity", "c1", domain.NoIdentity, owner, false},
		{"collectible for this content", "c1", u, domain.CollectibleCredential{TokenID: "t", ContentID: "c1"}, true},
		{"collectible for other content", "c1", u, domain.CollectibleCredential{TokenID: "t", ContentID: "c9"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(context.Background(), tt.contentID, tt.requester, tt.cred)
			if tt.allowed && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allowed && !errors.Is(err, domain.ErrAuthorizationDenied) {
				t.Errorf("expected denial, got %v", err)
			}
		})
	}
}

type owners map[string]string

func (o owners) OwnerOf(_ context.Context, contentID string) (string, error) {
	if id, ok := o[contentID]; ok {
		return id, nil
	}
	return "", domain.ErrNotFound
}

func TestLedgerPolicy(t *testing.T) {
	u, other := testutil.Identity(1), testutil.Identity(2)
	ledger := testutil.NewLedger().
		GrantOwner(u, "pub-1", "cap-1").
		GrantContributor(u, "pub-1").
		GrantCollectible(u, "c1", "tok-1")
	p := keyserver.LedgerPolicy{Ledger: ledger, Owners: owners{"c1": "pub-1", "c2": "pub-2"}}

	tests := []struct {
		name      string
		contentID string
		requester domain.Identity
		cred      domain.AccessCredential
		allowed   bool
	}{
		{"owner capability held", "c1", u, owner, true},
		{"owner capability not held", "c1", other, owner, false},
		{"owner capability for other owner", "c2", u, domain.OwnerCredential{CapabilityID: "cap-1", OwnerID: "pub-2"}, false},
		{"contributor", "c1", u, domain.ContributorCredential{OwnerID: "pub-1"}, true},
		{"contributor wrong owner", "c1", u, domain.ContributorCredential{OwnerID: "pub-2"}, false},
		{"subscription not held", "c1", u, domain.SubscriptionCredential{SubscriptionID: "s1"}, false},
		{"collectible held", "c1", u, domain.CollectibleCredential{TokenID: "tok-1", ContentID: "c1"}, true},
		{"collectible token differs", "c1", u, domain.CollectibleCredential{TokenID: "tok-2", ContentID: "c1"}, false},
		{"no credential", "c1", u, domain.NoCredential{}, false},
		{"no identity", "c1", domain.NoIdentity, owner, false},
		{"unknown content", "c9", u, owner, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(context.Background(), tt.contentID, tt.requester, tt.cred)
			if tt.allowed && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allowed && !errors.Is(err, domain.ErrAuthorizationDenied) {
				t.Errorf("expected denial, got %v", err)
			}
		})
	}
}

func TestLedgerPolicyOutageIsNotDenial(t *testing.T) {
	ledger := testutil.NewLedger().FailAll()
	p := keyserver.LedgerPolicy{Ledger: ledger, Owners: owners{"c1": "pub-1"}}

	err := p.Authorize(context.Background(), "c1", testutil.Identity(1), owner)
	if err == nil || errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Fatalf("expected an undecided error, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestAnyPolicy(t *testing.T) {
	down := policyFunc(func(context.Context, string, domain.Identity, domain.AccessCredential) error {
		return domain.ErrUnavailable
	})
	u := testutil.Identity(1)
	free := keyserver.KindPolicy{FreeContent: []string{"c1"}}

	if err := (keyserver.AnyPolicy{denyAll, free}).Authorize(context.Background(), "c1", u, domain.NoCredential{}); err != nil {
		t.Errorf("expected free content allowed, got %v", err)
	}
	if err := (keyserver.AnyPolicy{denyAll, down}).Authorize(context.Background(), "c1", u, owner); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("expected undecided error to win over denial, got %v", err)
	}
	if err := (keyserver.AnyPolicy{denyAll}).Authorize(context.Background(), "c1", u, owner); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("expected denial, got %v", err)
	}
	if err := (keyserver.AnyPolicy{}).Authorize(context.Background(), "c1", u, owner); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("empty policy must deny, got %v", err)
	}
}
