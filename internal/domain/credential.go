package domain

// CredentialKind names an access credential variant. Lower values have
// higher priority.
type CredentialKind int

const (
	KindOwner CredentialKind = iota
	KindContributor
	KindSubscription
	KindCollectible
	KindNone
)

func (k CredentialKind) String() string {
	switch k {
	case KindOwner:
		return "owner"
	case KindContributor:
		return "contributor"
	case KindSubscription:
		return "subscription"
	case KindCollectible:
		return "collectible"
	case KindNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseCredentialKind is the inverse of CredentialKind.String.
func ParseCredentialKind(s string) (CredentialKind, bool) {
	for k := KindOwner; k <= KindNone; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// AccessCredential is exactly one of OwnerCredential, ContributorCredential,
// SubscriptionCredential, CollectibleCredential or NoCredential.
type AccessCredential interface {
	Kind() CredentialKind
	credential()
}

// OwnerCredential proves the holder controls the content owner.
type OwnerCredential struct {
	CapabilityID string
	OwnerID      string
}

// ContributorCredential proves the holder is a listed contributor.
type ContributorCredential struct {
	OwnerID string
}

// SubscriptionCredential proves an active subscription.
type SubscriptionCredential struct {
	SubscriptionID string
	ServiceID      string
}

// CollectibleCredential proves possession of a content-specific token.
type CollectibleCredential struct {
	TokenID   string
	ContentID string
}

// NoCredential selects the free access path.
type NoCredential struct{}

func (OwnerCredential) Kind() CredentialKind        { return KindOwner }
func (ContributorCredential) Kind() CredentialKind  { return KindContributor }
func (SubscriptionCredential) Kind() CredentialKind { return KindSubscription }
func (CollectibleCredential) Kind() CredentialKind  { return KindCollectible }
func (NoCredential) Kind() CredentialKind           { return KindNone }

func (OwnerCredential) credential()        {}
func (ContributorCredential) credential()  {}
func (SubscriptionCredential) credential() {}
func (CollectibleCredential) credential()  {}
func (NoCredential) credential()           {}
