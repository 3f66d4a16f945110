package keyserver

import (
	"context"
	"errors"
	"fmt"

	"reader/internal/access"
	"reader/internal/domain"
)

// Policy decides whether a key server releases its share. A refusal wraps
// domain.ErrAuthorizationDenied; any other error means the decision could
// not be made.
type Policy interface {
	Authorize(ctx context.Context, contentID string, requester domain.Identity, cred domain.AccessCredential) error
}

// KindPolicy authorizes by credential kind alone. NoCredential is accepted
// only for content listed in FreeContent, and a collectible must name the
// requested content.
type KindPolicy struct {
	OpenKinds   []domain.CredentialKind
	FreeContent []string
}

func (p KindPolicy) Authorize(_ context.Context, contentID string, requester domain.Identity, cred domain.AccessCredential) error {
	kind := domain.KindNone
	if cred != nil {
		kind = cred.Kind()
	}
	if kind == domain.KindNone {
		for _, id := range p.FreeContent {
			if id == contentID {
				return nil
			}
		}
		return fmt.Errorf("%w: content %s requires a credential", domain.ErrAuthorizationDenied, contentID)
	}
	if !requester.Present() {
		return fmt.Errorf("%w: credential presented without identity", domain.ErrAuthorizationDenied)
	}
	if c, ok := cred.(domain.CollectibleCredential); ok && c.ContentID != contentID {
		return fmt.Errorf("%w: collectible is for %s", domain.ErrAuthorizationDenied, c.ContentID)
	}
	for _, k := range p.OpenKinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: %s credential not accepted", domain.ErrAuthorizationDenied, kind)
}

// OwnerLookup reports the owner of a piece of content.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, contentID string) (string, error)
}

// LedgerPolicy re-derives the presented credential from the ledger on
// every request, so a revoked or expired grant is refused even when the
// reader service still presents it.
type LedgerPolicy struct {
	Ledger access.Ledger
	Owners OwnerLookup
}

func (p LedgerPolicy) Authorize(ctx context.Context, contentID string, requester domain.Identity, cred domain.AccessCredential) error {
	if !requester.Present() {
		return fmt.Errorf("%w: no identity", domain.ErrAuthorizationDenied)
	}

	if c, ok := cred.(domain.CollectibleCredential); ok {
		if c.ContentID != contentID {
			return fmt.Errorf("%w: collectible is for %s", domain.ErrAuthorizationDenied, c.ContentID)
		}
		held, found, err := p.Ledger.FindCollectible(ctx, requester, contentID)
		return verdict(found && held.TokenID == c.TokenID, err, cred)
	}

	owner, err := p.Owners.OwnerOf(ctx, contentID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: unknown content %s", domain.ErrAuthorizationDenied, contentID)
	}
	if err != nil {
		return fmt.Errorf("looking up owner of %s: %w", contentID, err)
	}

	switch c := cred.(type) {
	case domain.OwnerCredential:
		held, found, err := p.Ledger.FindOwnerCapability(ctx, requester, owner)
		return verdict(found && c.OwnerID == owner && held.CapabilityID == c.CapabilityID, err, cred)
	case domain.ContributorCredential:
		found, err := p.Ledger.IsContributor(ctx, requester, owner)
		return verdict(found && c.OwnerID == owner, err, cred)
	case domain.SubscriptionCredential:
		held, found, err := p.Ledger.FindActiveSubscription(ctx, requester, owner)
		return verdict(found && held.SubscriptionID == c.SubscriptionID, err, cred)
	default:
		return fmt.Errorf("%w: content %s requires a credential", domain.ErrAuthorizationDenied, contentID)
	}
}

func verdict(ok bool, err error, cred domain.AccessCredential) error {
	if err != nil {
		return fmt.Errorf("verifying %s credential: %w", cred.Kind(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s credential not held", domain.ErrAuthorizationDenied, cred.Kind())
	}
	return nil
}

// AnyPolicy allows a request when any member allows it. If none allow and
// one failed to decide, that failure is returned instead of a denial.
type AnyPolicy []Policy

func (ps AnyPolicy) Authorize(ctx context.Context, contentID string, requester domain.Identity, cred domain.AccessCredential) error {
	var undecided error
	denied := fmt.Errorf("%w: no policy configured", domain.ErrAuthorizationDenied)
	for _, p := range ps {
		err := p.Authorize(ctx, contentID, requester, cred)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrAuthorizationDenied):
			denied = err
		default:
			undecided = err
		}
	}
	if undecided != nil {
		return undecided
	}
	return denied
}
