package domain

import "fmt"

// ContentDescriptor describes one piece of content as published by the
// metadata provider. It is immutable once fetched.
type ContentDescriptor struct {
	ContentID   string
	OwnerID     string
	IsEncrypted bool
	BlobRef     string
}

// Validate checks that the descriptor carries the identifiers the pipeline needs.
func (d ContentDescriptor) Validate() error {
	switch {
	case d.ContentID == "":
		return fmt.Errorf("%w: empty content id", ErrInvalidDescriptor)
	case d.BlobRef == "":
		return fmt.Errorf("%w: content %s has no blob ref", ErrInvalidDescriptor, d.ContentID)
	case d.IsEncrypted && d.OwnerID == "":
		return fmt.Errorf("%w: encrypted content %s has no owner", ErrInvalidDescriptor, d.ContentID)
	}
	return nil
}

// DecryptionRequest is built immediately before calling the decryption
// service and dropped once the call returns.
type DecryptionRequest struct {
	Ciphertext []byte
	ContentID  string
	Credential AccessCredential
	Requester  Identity
}
