package shared

import "errors"

// Error taxonomy of the inventory and billing engine. Packages wrap these with
// their own context so callers and the HTTP layer can classify with errors.Is.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a unique key already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInsufficientStock is returned when a movement or allocation would drive a balance negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidBillState rejects an illegal lifecycle transition.
	ErrInvalidBillState = errors.New("invalid bill state")
	// ErrAllocationConflict means a concurrent writer won the scope; retry with fresh balances.
	ErrAllocationConflict = errors.New("allocation conflict")
	// ErrExternalSubmission is recorded on e-invoice entries when the IRN collaborator fails.
	ErrExternalSubmission = errors.New("external submission failed")
	// ErrPersistence wraps store failures that aborted a transaction.
	ErrPersistence = errors.New("persistence failure")
)

// IsDomainError reports whether err already carries a taxonomy classification.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrValidation, ErrDuplicate, ErrInsufficientStock,
		ErrInvalidBillState, ErrAllocationConflict, ErrExternalSubmission, ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
