/*
errors.go - Centralized error taxonomy for the trading core

PURPOSE:
  All domain error types in one place. Callers branch with errors.Is /
  errors.As; the API layer maps the taxonomy onto HTTP status codes.

ERROR CATEGORIES:
  1. Not-found errors   - missing invoice / expense / product
  2. Validation errors  - rejected before any mutation
  3. State errors       - operations illegal in the current invoice state
  4. Integrity errors   - deletes blocked by downstream references

USAGE:
  if errors.Is(err, trading.ErrAlreadyApprovedNoOp) { ... }

  var verr *trading.ValidationError
  if errors.As(err, &verr) { ... }
*/
package trading

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvoiceNotFound is returned when a referenced invoice doesn't exist.
	ErrInvoiceNotFound = errors.New("purchase invoice not found")

	// ErrExpenseNotFound is returned when a referenced expense row doesn't exist.
	ErrExpenseNotFound = errors.New("expense item not found")

	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrValidation is the root of all input validation failures.
	// Validation errors are raised before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyApprovedNoOp is returned when a supplemental approval call
	// carries no expense rows. Re-approving an invoice is only meaningful
	// as a vehicle for attaching more expenses.
	ErrAlreadyApprovedNoOp = errors.New("invoice already approved and no expenses supplied")

	// ErrIntegrityViolation is returned when a delete is blocked by
	// downstream references (non-pending receipts, linked documents).
	ErrIntegrityViolation = errors.New("integrity violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field of which input failed and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IntegrityError explains why a delete was refused.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: %s", e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrExpenseNotFound) ||
		errors.Is(err, ErrProductNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadyApprovedNoOp) ||
		errors.Is(err, ErrIntegrityViolation)
}
