/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place. Every operation fails with exactly one of
  four categories, and callers branch on them with errors.Is/errors.As.

ERROR CATEGORIES:
  1. Validation  - bad input, rejected before any mutation
  2. State       - the installment is not in a status that allows the operation
  3. Consistency - a debt plan whose installments do not add up
  4. Not found   - unknown installment, debt or audit entry

  None of these are retried by the ledger. ErrConcurrentModification is the
  only retryable error: the caller re-fetches and tries again.

USAGE:
  _, err := l.ReopenPayment(ctx, id, actor)
  var conflict *ledger.StateConflictError
  if errors.As(err, &conflict) {
      // conflict.Status tells the UI what the installment looks like now
  }

SEE ALSO:
  - api/handlers.go: Maps categories to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrValidation          = errors.New("validation failed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrPartialNotConfirmed = errors.New("amount is below the outstanding balance and was not flagged as partial")

	// State
	ErrInvalidState           = errors.New("operation not allowed in current status")
	ErrDuplicateNumero        = errors.New("installment number already used by its owner")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Consistency
	ErrSumMismatch = errors.New("installments do not add up to the declared total")

	// Not found
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrDebtNotFound        = errors.New("debt not found")
	ErrAuditEntryNotFound  = errors.New("audit entry not found")

	// ErrInvariantViolation means a computed state broke a ledger invariant.
	// It indicates a bug and is never caused by input.
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateConflictError is returned when a status precondition is not met.
type StateConflictError struct {
	ParcelaID string
	Operation string
	Status    Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s installment %s in status %s", e.Operation, e.ParcelaID, e.Status)
}

func (e *StateConflictError) Unwrap() error { return ErrInvalidState }

// SumMismatchError is returned when a debt plan does not match its total.
type SumMismatchError struct {
	Declared decimal.Decimal
	Computed decimal.Decimal
}

func (e *SumMismatchError) Error() string {
	return fmt.Sprintf("installments sum to %s but the declared total is %s",
		e.Computed.StringFixed(2), e.Declared.StringFixed(2))
}

func (e *SumMismatchError) Unwrap() error { return ErrSumMismatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrPartialNotConfirmed)
}

// IsConflict returns true if the caller must re-fetch state before retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateNumero) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrDebtNotFound) ||
		errors.Is(err, ErrAuditEntryNotFound)
}
