package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reader/internal/domain"
	"reader/internal/platform/telemetry"
)

// lookup is one priority tier. found=false with a nil error means the
// reader does not hold this credential.
type lookup struct {
	kind domain.CredentialKind
	find func(ctx context.Context, id domain.Identity, ownerID, contentID string) (domain.AccessCredential, bool, error)
}

// Resolver walks the credential tiers in priority order and returns the
// first one the reader holds. It holds no state between calls.
type Resolver struct {
	tiers   []lookup
	logger  *slog.Logger
	metrics *telemetry.ReaderMetrics
}

// NewResolver creates a resolver over the ledger.
// The logger and metrics parameters are optional; pass nil to use the
// default logger and skip metric recording.
func NewResolver(ledger Ledger, logger *slog.Logger, m *telemetry.ReaderMetrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		tiers:   ledgerTiers(ledger),
		logger:  logger,
		metrics: m,
	}
}

func ledgerTiers(l Ledger) []lookup {
	return []lookup{
		{domain.KindOwner, func(ctx context.Context, id domain.Identity, ownerID, _ string) (domain.AccessCredential, bool, error) {
			c, ok, err := l.FindOwnerCapability(ctx, id, ownerID)
			return c, ok, err
		}},
		{domain.KindContributor, func(ctx context.Context, id domain.Identity, ownerID, _ string) (domain.AccessCredential, bool, error) {
			ok, err := l.IsContributor(ctx, id, ownerID)
			return domain.ContributorCredential{OwnerID: ownerID}, ok, err
		}},
		{domain.KindSubscription, func(ctx context.Context, id domain.Identity, ownerID, _ string) (domain.AccessCredential, bool, error) {
			c, ok, err := l.FindActiveSubscription(ctx, id, ownerID)
			return c, ok, err
		}},
		{domain.KindCollectible, func(ctx context.Context, id domain.Identity, _, contentID string) (domain.AccessCredential, bool, error) {
			c, ok, err := l.FindCollectible(ctx, id, contentID)
			return c, ok, err
		}},
	}
}

// Resolve returns exactly one credential. Without an identity it returns
// NoCredential and makes no ledger calls. A failed tier is logged and
// treated as not held; only when every tier fails does Resolve return an
// error wrapping domain.ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, id domain.Identity, ownerID, contentID string) (domain.AccessCredential, error) {
	if !id.Present() {
		r.record(ctx, domain.KindNone)
		return domain.NoCredential{}, nil
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: empty owner id", domain.ErrInvalidDescriptor)
	}

	var failures []error
	for _, tier := range r.tiers {
		cred, found, err := tier.find(ctx, id, ownerID, contentID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		switch {
		case err != nil:
			r.lookupMetric(ctx, tier.kind, "error")
			r.logger.Warn("credential lookup failed, treating as not held",
				"tier", tier.kind.String(),
				"identity", id.String(),
				"owner_id", ownerID,
				"content_id", contentID,
				"error", err,
			)
			failures = append(failures, fmt.Errorf("%s lookup: %w", tier.kind, err))
		case found:
			r.lookupMetric(ctx, tier.kind, "found")
			r.record(ctx, tier.kind)
			return cred, nil
		default:
			r.lookupMetric(ctx, tier.kind, "not_found")
		}
	}

	if len(failures) == len(r.tiers) {
		return nil, fmt.Errorf("resolving credential: %w: %w", domain.ErrUnavailable, errors.Join(failures...))
	}
	r.record(ctx, domain.KindNone)
	return domain.NoCredential{}, nil
}

func (r *Resolver) lookupMetric(ctx context.Context, kind domain.CredentialKind, result string) {
	if r.metrics != nil {
		r.metrics.RecordLedgerLookup(ctx, kind.String(), result)
	}
}

func (r *Resolver) record(ctx context.Context, kind domain.CredentialKind) {
	if r.metrics != nil {
		r.metrics.RecordResolution(ctx, kind.String())
	}
}
