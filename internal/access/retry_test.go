package access_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"reader/internal/access"
	"reader/internal/domain"
	"reader/internal/testutil"
)

var fastRetry = access.RetryPolicy{MaxRetries: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond}

func TestRetryRecoversFromThresholdUnmet(t *testing.T) {
	f := newFixture()
	u := testutil.Identity(20)
	f.ledger.GrantOwner(u, ownerID, "cap-1")
	f.blobs.Put("blob-c1", []byte("ciphertext"))

	var attempts atomic.Int64
	f.decrypter.Func = func(context.Context, domain.DecryptionRequest) ([]byte, error) {
		if attempts.Add(1) == 1 {
			return nil, fmt.Errorf("1 of 2 shares: %w", domain.ErrThresholdUnmet)
		}
		return []byte("secret"), nil
	}

	first := f.pipeline.Load(context.Background(), encrypted("c1"), u)
	if first.Kind() != domain.FailureThresholdUnmet {
		t.Fatalf("expected threshold_unmet, got %+v", first)
	}
	out := f.pipeline.LoadWithRetry(context.Background(), encrypted("c1"), u, fastRetry)
	if !out.OK() || out.Plaintext != "secret" {
		t.Fatalf("expected retry to succeed, got %+v", out)
	}
}

func TestRetryReResolvesEachAttempt(t *testing.T) {
	f := newFixture()
	u := testutil.Identity(21)
	f.ledger.FailAll()
	f.blobs.Put("blob-c1", []byte("ciphertext"))
	f.decrypter.Func = testutil.AcceptKinds("secret", domain.KindOwner)

	var loads atomic.Int64
	out := access.Retry(context.Background(), fastRetry, func(ctx context.Context) domain.Outcome {
		if loads.Add(1) == 2 {
			f.ledger.FailTier(domain.KindOwner, nil).GrantOwner(u, ownerID, "cap-1")
		}
		return f.pipeline.Load(ctx, encrypted("c1"), u)
	})
	if !out.OK() {
		t.Fatalf("expected success once the ledger recovers, got %+v", out)
	}
	if n := loads.Load(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	tests := []domain.FailureKind{
		domain.FailureIdentityRequired,
		domain.FailureAuthorizationDenied,
		domain.FailureCorrupt,
		domain.FailureCancelled,
	}
	for _, kind := range tests {
		t.Run(kind.String(), func(t *testing.T) {
			var calls int
			out := access.Retry(context.Background(), fastRetry, func(context.Context) domain.Outcome {
				calls++
				return domain.Failed(kind, "x")
			})
			if out.Kind() != kind {
				t.Errorf("expected %v, got %v", kind, out.Kind())
			}
			if calls != 1 {
				t.Errorf("expected a single attempt, got %d", calls)
			}
		})
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	var calls int
	out := access.Retry(context.Background(), fastRetry, func(context.Context) domain.Outcome {
		calls++
		return domain.Failed(domain.FailureUnavailable, "down")
	})
	if out.Kind() != domain.FailureUnavailable {
		t.Errorf("expected unavailable, got %v", out.Kind())
	}
	if calls != int(fastRetry.MaxRetries)+1 {
		t.Errorf("expected %d attempts, got %d", fastRetry.MaxRetries+1, calls)
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := access.RetryPolicy{MaxRetries: 5, Base: time.Hour}

	out := access.Retry(ctx, slow, func(context.Context) domain.Outcome {
		cancel()
		return domain.Failed(domain.FailureUnavailable, "down")
	})
	if out.Kind() != domain.FailureCancelled {
		t.Errorf("expected cancelled, got %+v", out)
	}
}
