package keyserver

import (
	"fmt"

	"reader/internal/domain"
)

// ShareRequest is the body of POST /v1/shares. The requester is not part
// of the body; it comes from the bearer token on the request.
type ShareRequest struct {
	ContentID  string         `json:"content_id"`
	Credential CredentialWire `json:"credential"`
	Sealed     []byte         `json:"sealed"`
}

// ShareResponse carries one released key share.
type ShareResponse struct {
	X byte   `json:"x"`
	Y []byte `json:"y"`
}

// CredentialWire is the JSON form of domain.AccessCredential.
type CredentialWire struct {
	Kind           string `json:"kind"`
	CapabilityID   string `json:"capability_id,omitempty"`
	OwnerID        string `json:"owner_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	ServiceID      string `json:"service_id,omitempty"`
	TokenID        string `json:"token_id,omitempty"`
	ContentID      string `json:"content_id,omitempty"`
}

// EncodeCredential converts a credential to its wire form. A nil
// credential encodes as none.
func EncodeCredential(c domain.AccessCredential) CredentialWire {
	switch v := c.(type) {
	case domain.OwnerCredential:
		return CredentialWire{Kind: v.Kind().String(), CapabilityID: v.CapabilityID, OwnerID: v.OwnerID}
	case domain.ContributorCredential:
		return CredentialWire{Kind: v.Kind().String(), OwnerID: v.OwnerID}
	case domain.SubscriptionCredential:
		return CredentialWire{Kind: v.Kind().String(), SubscriptionID: v.SubscriptionID, ServiceID: v.ServiceID}
	case domain.CollectibleCredential:
		return CredentialWire{Kind: v.Kind().String(), TokenID: v.TokenID, ContentID: v.ContentID}
	default:
		return CredentialWire{Kind: domain.KindNone.String()}
	}
}

// Decode converts the wire form back to a credential.
func (w CredentialWire) Decode() (domain.AccessCredential, error) {
	kind, ok := domain.ParseCredentialKind(w.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown credential kind %q", w.Kind)
	}
	switch kind {
	case domain.KindOwner:
		return domain.OwnerCredential{CapabilityID: w.CapabilityID, OwnerID: w.OwnerID}, nil
	case domain.KindContributor:
		return domain.ContributorCredential{OwnerID: w.OwnerID}, nil
	case domain.KindSubscription:
		return domain.SubscriptionCredential{SubscriptionID: w.SubscriptionID, ServiceID: w.ServiceID}, nil
	case domain.KindCollectible:
		return domain.CollectibleCredential{TokenID: w.TokenID, ContentID: w.ContentID}, nil
	default:
		return domain.NoCredential{}, nil
	}
}
