package domain

import "fmt"

// FailureKind classifies why a load did not produce plaintext.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureIdentityRequired
	FailureUnavailable
	FailureThresholdUnmet
	FailureAuthorizationDenied
	FailureCorrupt
	FailureCancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureIdentityRequired:
		return "identity_required"
	case FailureUnavailable:
		return "unavailable"
	case FailureThresholdUnmet:
		return "threshold_unmet"
	case FailureAuthorizationDenied:
		return "authorization_denied"
	case FailureCorrupt:
		return "corrupt"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether a caller may retry after this failure.
func (k FailureKind) Retryable() bool {
	return k == FailureUnavailable || k == FailureThresholdUnmet
}

// Message is the user-facing text for the failure. Cancelled has none.
func (k FailureKind) Message() string {
	switch k {
	case FailureIdentityRequired:
		return "sign in to read this content"
	case FailureUnavailable:
		return "content is temporarily unavailable, try again shortly"
	case FailureThresholdUnmet:
		return "not enough key servers responded, try again shortly"
	case FailureAuthorizationDenied:
		return "your account does not have access to this content"
	case FailureCorrupt:
		return "this content could not be decoded"
	case FailureCancelled:
		return ""
	default:
		return "an unexpected error occurred"
	}
}

// Failure is a classified load failure.
type Failure struct {
	Kind   FailureKind
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Outcome is the result of one load: either Plaintext or a Failure.
type Outcome struct {
	Plaintext string
	Failure   *Failure
}

// Plaintext returns a successful outcome.
func Plaintext(text string) Outcome { return Outcome{Plaintext: text} }

// Failed returns a failed outcome.
func Failed(kind FailureKind, detail string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Detail: detail}}
}

// OK reports whether the outcome carries plaintext.
func (o Outcome) OK() bool { return o.Failure == nil }

// Kind returns the failure kind, or FailureUnknown on success.
func (o Outcome) Kind() FailureKind {
	if o.Failure == nil {
		return FailureUnknown
	}
	return o.Failure.Kind
}

// PipelineState is the progress of an in-flight load.
type PipelineState int

const (
	StateIdle PipelineState = iota
	StateFetchingBlob
	StateResolvingCredential
	StateDecrypting
	StateDone
	StateFailed
)

func (s PipelineState) String() string {
	switch s {
	case StateFetchingBlob:
		return "fetching_blob"
	case StateResolvingCredential:
		return "resolving_credential"
	case StateDecrypting:
		return "decrypting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}
