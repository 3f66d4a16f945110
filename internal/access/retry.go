package access

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"reader/internal/domain"
)

// RetryPolicy bounds caller-driven retries of transient failures.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
	Cap        time.Duration
}

// DefaultRetryPolicy retries twice starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, Base: 200 * time.Millisecond, Cap: 2 * time.Second}

func (rp RetryPolicy) backoff() retry.Backoff {
	base := rp.Base
	if base <= 0 {
		base = DefaultRetryPolicy.Base
	}
	b := retry.NewExponential(base)
	if rp.Cap > 0 {
		b = retry.WithCappedDuration(rp.Cap, b)
	}
	return retry.WithMaxRetries(rp.MaxRetries, b)
}

// Retry calls load until it succeeds, fails with a non-retryable kind, or
// the policy is exhausted. Only Unavailable and ThresholdUnmet are
// retried. If ctx ends while backing off the result is Cancelled.
func Retry(ctx context.Context, rp RetryPolicy, load func(ctx context.Context) domain.Outcome) domain.Outcome {
	var out domain.Outcome
	err := retry.Do(ctx, rp.backoff(), func(ctx context.Context) error {
		out = load(ctx)
		if !out.OK() && out.Failure.Kind.Retryable() {
			return retry.RetryableError(out.Failure)
		}
		return nil
	})
	if err != nil && ctx.Err() != nil && out.Kind() != domain.FailureCancelled {
		return domain.Failed(domain.FailureCancelled, ctx.Err().Error())
	}
	return out
}

// LoadWithRetry is Load wrapped in Retry. Each attempt re-resolves the
// credential and re-fetches the blob.
func (p *Pipeline) LoadWithRetry(ctx context.Context, desc domain.ContentDescriptor, id domain.Identity, rp RetryPolicy) domain.Outcome {
	return Retry(ctx, rp, func(ctx context.Context) domain.Outcome {
		return p.Load(ctx, desc, id)
	})
}
