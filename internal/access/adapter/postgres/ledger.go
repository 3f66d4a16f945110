package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"reader/internal/domain"
)

const (
	qOwnerCapability = `SELECT capability_id FROM owner_capabilities WHERE holder = $1 AND owner_id = $2 ORDER BY capability_id LIMIT 1`
	qIsContributor   = `SELECT EXISTS (SELECT 1 FROM contributors WHERE owner_id = $1 AND identity = $2)`
	qSubscription    = `SELECT subscription_id, service_id FROM subscriptions WHERE holder = $1 AND owner_id = $2 AND expires_at > $3 ORDER BY expires_at DESC LIMIT 1`
	qCollectible     = `SELECT token_id FROM collectibles WHERE holder = $1 AND content_id = $2 ORDER BY token_id LIMIT 1`
)

// Ledger answers authorization lookups from the ledger tables.
type Ledger struct {
	db  *DB
	now func() time.Time
}

// NewLedger creates a ledger over db using the real clock.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// WithClock replaces the clock used to decide subscription expiry.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) FindOwnerCapability(ctx context.Context, id domain.Identity, ownerID string) (domain.OwnerCredential, bool, error) {
	var capID string
	err := l.db.Pool.QueryRow(ctx, qOwnerCapability, id.String(), ownerID).Scan(&capID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OwnerCredential{}, false, nil
	}
	if err != nil {
		return domain.OwnerCredential{}, false, unavailable("finding owner capability", err)
	}
	return domain.OwnerCredential{CapabilityID: capID, OwnerID: ownerID}, true, nil
}

func (l *Ledger) IsContributor(ctx context.Context, id domain.Identity, ownerID string) (bool, error) {
	var ok bool
	if err := l.db.Pool.QueryRow(ctx, qIsContributor, ownerID, id.String()).Scan(&ok); err != nil {
		return false, unavailable("checking contributor list", err)
	}
	return ok, nil
}

// FindActiveSubscription returns the subscription that expires last among
// those still active.
func (l *Ledger) FindActiveSubscription(ctx context.Context, id domain.Identity, ownerID string) (domain.SubscriptionCredential, bool, error) {
	var sub domain.SubscriptionCredential
	err := l.db.Pool.QueryRow(ctx, qSubscription, id.String(), ownerID, l.now().UTC()).Scan(&sub.SubscriptionID, &sub.ServiceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubscriptionCredential{}, false, nil
	}
	if err != nil {
		return domain.SubscriptionCredential{}, false, unavailable("finding subscription", err)
	}
	return sub, true, nil
}

func (l *Ledger) FindCollectible(ctx context.Context, id domain.Identity, contentID string) (domain.CollectibleCredential, bool, error) {
	var tokenID string
	err := l.db.Pool.QueryRow(ctx, qCollectible, id.String(), contentID).Scan(&tokenID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CollectibleCredential{}, false, nil
	}
	if err != nil {
		return domain.CollectibleCredential{}, false, unavailable("finding collectible", err)
	}
	return domain.CollectibleCredential{TokenID: tokenID, ContentID: contentID}, true, nil
}
