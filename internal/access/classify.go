package access

import (
	"context"
	"errors"

	"reader/internal/domain"
)

// Classify maps a stage error onto the failure taxonomy. Unrecognised
// errors are treated as transport failures.
func Classify(err error) domain.FailureKind {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.FailureCancelled
	case errors.Is(err, domain.ErrIdentityRequired):
		return domain.FailureIdentityRequired
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return domain.FailureAuthorizationDenied
	case errors.Is(err, domain.ErrThresholdUnmet):
		return domain.FailureThresholdUnmet
	case errors.Is(err, domain.ErrContentMismatch),
		errors.Is(err, domain.ErrCorrupt),
		errors.Is(err, domain.ErrInvalidDescriptor):
		return domain.FailureCorrupt
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrUnavailable):
		return domain.FailureUnavailable
	default:
		return domain.FailureUnavailable
	}
}

// failure converts err into a failed outcome.
func failure(err error) domain.Outcome {
	return domain.Failed(Classify(err), err.Error())
}
