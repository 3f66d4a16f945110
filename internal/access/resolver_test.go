package access_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"reader/internal/access"
	"reader/internal/domain"
	"reader/internal/testutil"
)

const (
	ownerID   = "pub-1"
	contentID = "article-1"
)

func activeSub(id string) testutil.Subscription {
	return testutil.Subscription{
		Credential: domain.SubscriptionCredential{SubscriptionID: id, ServiceID: "svc-1"},
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func TestResolveWithoutIdentityMakesNoLedgerCalls(t *testing.T) {
	ledger := testutil.NewLedger()
	r := access.NewResolver(ledger, nil, nil)

	cred, err := r.Resolve(context.Background(), domain.NoIdentity, ownerID, contentID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Kind() != domain.KindNone {
		t.Errorf("expected none, got %v", cred.Kind())
	}
	if n := ledger.Calls.Load(); n != 0 {
		t.Errorf("expected no ledger calls, got %d", n)
	}
}

func TestResolveEachTier(t *testing.T) {
	id := testutil.Identity(1)
	tests := []struct {
		name  string
		setup func(l *testutil.Ledger)
		want  domain.AccessCredential
	}{
		{
			name:  "owner",
			setup: func(l *testutil.Ledger) { l.GrantOwner(id, ownerID, "cap-1") },
			want:  domain.OwnerCredential{CapabilityID: "cap-1", OwnerID: ownerID},
		},
		{
			name:  "contributor",
			setup: func(l *testutil.Ledger) { l.GrantContributor(id, ownerID) },
			want:  domain.ContributorCredential{OwnerID: ownerID},
		},
		{
			name:  "subscription",
			setup: func(l *testutil.Ledger) { l.GrantSubscription(id, ownerID, activeSub("sub-1")) },
			want:  domain.SubscriptionCredential{SubscriptionID: "sub-1", ServiceID: "svc-1"},
		},
		{
			name:  "collectible",
			setup: func(l *testutil.Ledger) { l.GrantCollectible(id, contentID, "tok-1") },
			want:  domain.CollectibleCredential{TokenID: "tok-1", ContentID: contentID},
		},
		{
			name:  "none",
			setup: func(l *testutil.Ledger) {},
			want:  domain.NoCredential{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := testutil.NewLedger()
			tt.setup(ledger)
			r := access.NewResolver(ledger, nil, nil)

			cred, err := r.Resolve(context.Background(), id, ownerID, contentID)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if cred != tt.want {
				t.Errorf("expected %#v, got %#v", tt.want, cred)
			}
		})
	}
}

func TestResolvePrefersHigherPriority(t *testing.T) {
	id := testutil.Identity(2)
	ledger := testutil.NewLedger().
		GrantOwner(id, ownerID, "cap-1").
		GrantContributor(id, ownerID).
		GrantSubscription(id, ownerID, activeSub("sub-1")).
		GrantCollectible(id, contentID, "tok-1")
	r := access.NewResolver(ledger, nil, nil)

	cred, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Kind() != domain.KindOwner {
		t.Errorf("owner who is also subscriber must resolve to owner, got %v", cred.Kind())
	}
	if n := ledger.Calls.Load(); n != 1 {
		t.Errorf("owner match should stop after one lookup, got %d calls", n)
	}
}

func TestResolveSubscriberOverCollectible(t *testing.T) {
	id := testutil.Identity(3)
	ledger := testutil.NewLedger().
		GrantSubscription(id, ownerID, activeSub("sub-1")).
		GrantCollectible(id, contentID, "tok-1")
	r := access.NewResolver(ledger, nil, nil)

	cred, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Kind() != domain.KindSubscription {
		t.Errorf("expected subscription, got %v", cred.Kind())
	}
}

func TestResolveExpiredSubscriptionFallsThrough(t *testing.T) {
	id := testutil.Identity(4)
	ledger := testutil.NewLedger().GrantSubscription(id, ownerID, testutil.Subscription{
		Credential: domain.SubscriptionCredential{SubscriptionID: "old", ServiceID: "svc-1"},
		ExpiresAt:  time.Now().Add(-time.Minute),
	})
	r := access.NewResolver(ledger, nil, nil)

	cred, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Kind() != domain.KindNone {
		t.Errorf("expected none for expired subscription, got %v", cred.Kind())
	}
	if n := ledger.Calls.Load(); n != 4 {
		t.Errorf("every tier must be attempted before none, got %d calls", n)
	}
}

func TestResolveAbsorbsSingleTierFailure(t *testing.T) {
	id := testutil.Identity(5)
	ledger := testutil.NewLedger().
		GrantOwner(id, ownerID, "cap-1").
		GrantContributor(id, ownerID).
		FailTier(domain.KindOwner, fmt.Errorf("rpc timeout: %w", domain.ErrUnavailable))
	r := access.NewResolver(ledger, nil, nil)

	cred, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if err != nil {
		t.Fatalf("single tier failure must not fail resolution: %v", err)
	}
	if cred.Kind() != domain.KindContributor {
		t.Errorf("expected degraded contributor access, got %v", cred.Kind())
	}
}

func TestResolvePartialOutageDegradesToNone(t *testing.T) {
	id := testutil.Identity(6)
	ledger := testutil.NewLedger().
		FailTier(domain.KindOwner, domain.ErrUnavailable).
		FailTier(domain.KindContributor, domain.ErrUnavailable).
		FailTier(domain.KindSubscription, domain.ErrUnavailable)
	r := access.NewResolver(ledger, nil, nil)

	cred, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Kind() != domain.KindNone {
		t.Errorf("expected none, got %v", cred.Kind())
	}
}

func TestResolveTotalOutageIsUnavailable(t *testing.T) {
	id := testutil.Identity(7)
	ledger := testutil.NewLedger().GrantOwner(id, ownerID, "cap-1").FailAll()
	r := access.NewResolver(ledger, nil, nil)

	_, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if access.Classify(err) != domain.FailureUnavailable {
		t.Errorf("expected unavailable kind, got %v", access.Classify(err))
	}
}

func TestResolveRejectsEmptyOwner(t *testing.T) {
	r := access.NewResolver(testutil.NewLedger(), nil, nil)

	_, err := r.Resolve(context.Background(), testutil.Identity(8), "", contentID)
	if !errors.Is(err, domain.ErrInvalidDescriptor) {
		t.Errorf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	ledger := testutil.NewLedger()
	r := access.NewResolver(ledger, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, testutil.Identity(9), ownerID, contentID)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n := ledger.Calls.Load(); n != 1 {
		t.Errorf("expected resolution to stop after first lookup, got %d calls", n)
	}
}

func TestResolveRederivesEachCall(t *testing.T) {
	id := testutil.Identity(10)
	ledger := testutil.NewLedger().GrantContributor(id, ownerID)
	r := access.NewResolver(ledger, nil, nil)

	first, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if err != nil || first.Kind() != domain.KindContributor {
		t.Fatalf("first Resolve: %v %v", first, err)
	}

	ledger.GrantOwner(id, ownerID, "cap-new")
	second, err := r.Resolve(context.Background(), id, ownerID, contentID)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second.Kind() != domain.KindOwner {
		t.Errorf("resolution must reflect ledger changes, got %v", second.Kind())
	}
}
