package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"reader/internal/domain"
)

type holderKey struct {
	id  domain.Identity
	key string
}

// Subscription is a ledger subscription record with an expiry.
type Subscription struct {
	Credential domain.SubscriptionCredential
	ExpiresAt  time.Time
}

// Ledger is an in-memory ledger that counts calls and can fail per tier.
type Ledger struct {
	Now   func() time.Time
	Calls atomic.Int64

	mu            sync.Mutex
	owners        map[holderKey]domain.OwnerCredential
	contributors  map[holderKey]bool
	subscriptions map[holderKey]Subscription
	collectibles  map[holderKey]domain.CollectibleCredential
	errs          map[domain.CredentialKind]error
}

// NewLedger returns an empty ledger using the real clock.
func NewLedger() *Ledger {
	return &Ledger{
		Now:           time.Now,
		owners:        make(map[holderKey]domain.OwnerCredential),
		contributors:  make(map[holderKey]bool),
		subscriptions: make(map[holderKey]Subscription),
		collectibles:  make(map[holderKey]domain.CollectibleCredential),
		errs:          make(map[domain.CredentialKind]error),
	}
}

func (l *Ledger) GrantOwner(id domain.Identity, ownerID, capabilityID string) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[holderKey{id, ownerID}] = domain.OwnerCredential{CapabilityID: capabilityID, OwnerID: ownerID}
	return l
}

func (l *Ledger) GrantContributor(id domain.Identity, ownerID string) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contributors[holderKey{id, ownerID}] = true
	return l
}

func (l *Ledger) GrantSubscription(id domain.Identity, ownerID string, sub Subscription) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscriptions[holderKey{id, ownerID}] = sub
	return l
}

func (l *Ledger) GrantCollectible(id domain.Identity, contentID, tokenID string) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.collectibles[holderKey{id, contentID}] = domain.CollectibleCredential{TokenID: tokenID, ContentID: contentID}
	return l
}

// FailTier makes lookups for kind return err. A nil err clears the failure.
func (l *Ledger) FailTier(kind domain.CredentialKind, err error) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.errs, kind)
	} else {
		l.errs[kind] = err
	}
	return l
}

// FailAll makes every tier return a wrapped domain.ErrUnavailable.
func (l *Ledger) FailAll() *Ledger {
	for k := domain.KindOwner; k < domain.KindNone; k++ {
		l.FailTier(k, fmt.Errorf("ledger offline: %w", domain.ErrUnavailable))
	}
	return l
}

func (l *Ledger) FindOwnerCapability(ctx context.Context, id domain.Identity, ownerID string) (domain.OwnerCredential, bool, error) {
	l.Calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs[domain.KindOwner]; err != nil {
		return domain.OwnerCredential{}, false, err
	}
	c, ok := l.owners[holderKey{id, ownerID}]
	return c, ok, nil
}

func (l *Ledger) IsContributor(ctx context.Context, id domain.Identity, ownerID string) (bool, error) {
	l.Calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs[domain.KindContributor]; err != nil {
		return false, err
	}
	return l.contributors[holderKey{id, ownerID}], nil
}

func (l *Ledger) FindActiveSubscription(ctx context.Context, id domain.Identity, ownerID string) (domain.SubscriptionCredential, bool, error) {
	l.Calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs[domain.KindSubscription]; err != nil {
		return domain.SubscriptionCredential{}, false, err
	}
	s, ok := l.subscriptions[holderKey{id, ownerID}]
	if !ok || !s.ExpiresAt.After(l.Now()) {
		return domain.SubscriptionCredential{}, false, nil
	}
	return s.Credential, true, nil
}

func (l *Ledger) FindCollectible(ctx context.Context, id domain.Identity, contentID string) (domain.CollectibleCredential, bool, error) {
	l.Calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs[domain.KindCollectible]; err != nil {
		return domain.CollectibleCredential{}, false, err
	}
	c, ok := l.collectibles[holderKey{id, contentID}]
	return c, ok, nil
}

// BlobStore is an in-memory blob store. If Gate is set, Fetch signals
// Started and then blocks until Gate is closed or ctx ends.
type BlobStore struct {
	Calls   atomic.Int64
	Gate    chan struct{}
	Started chan struct{}

	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (b *BlobStore) Put(ref string, data []byte) *BlobStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[ref] = data
	return b
}

// Fail makes every Fetch return err. A nil err restores normal behavior.
func (b *BlobStore) Fail(err error) *BlobStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	return b
}

func (b *BlobStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	b.Calls.Add(1)
	if b.Gate != nil {
		if b.Started != nil {
			select {
			case b.Started <- struct{}{}:
			default:
			}
		}
		select {
		case <-b.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	data, ok := b.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w: %w", ref, domain.ErrUnavailable, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Decrypter delegates to Func and records every request it sees.
type Decrypter struct {
	Func  func(ctx context.Context, req domain.DecryptionRequest) ([]byte, error)
	Calls atomic.Int64

	mu       sync.Mutex
	requests []domain.DecryptionRequest
}

func (d *Decrypter) Decrypt(ctx context.Context, req domain.DecryptionRequest) ([]byte, error) {
	d.Calls.Add(1)
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	if d.Func == nil {
		return nil, fmt.Errorf("no decrypt func: %w", domain.ErrUnavailable)
	}
	return d.Func(ctx, req)
}

// Requests returns a copy of the requests seen so far.
func (d *Decrypter) Requests() []domain.DecryptionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.DecryptionRequest(nil), d.requests...)
}

// AcceptKinds returns a decrypt func that returns plaintext when the
// request's credential kind is one of kinds and denies otherwise.
func AcceptKinds(plaintext string, kinds ...domain.CredentialKind) func(context.Context, domain.DecryptionRequest) ([]byte, error) {
	return func(_ context.Context, req domain.DecryptionRequest) ([]byte, error) {
		for _, k := range kinds {
			if req.Credential.Kind() == k {
				return []byte(plaintext), nil
			}
		}
		return nil, fmt.Errorf("%s credential rejected: %w", req.Credential.Kind(), domain.ErrAuthorizationDenied)
	}
}

// Resolver returns a fixed credential and counts calls.
type Resolver struct {
	Credential domain.AccessCredential
	Err        error
	Calls      atomic.Int64
}

func (r *Resolver) Resolve(ctx context.Context, id domain.Identity, ownerID, contentID string) (domain.AccessCredential, error) {
	r.Calls.Add(1)
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Credential == nil {
		return domain.NoCredential{}, nil
	}
	return r.Credential, nil
}

// Metadata maps slugs to descriptors.
type Metadata map[string]domain.ContentDescriptor

func (m Metadata) Describe(ctx context.Context, slug string) (domain.ContentDescriptor, error) {
	d, ok := m[slug]
	if !ok {
		return domain.ContentDescriptor{}, fmt.Errorf("article %q: %w", slug, domain.ErrNotFound)
	}
	return d, nil
}
