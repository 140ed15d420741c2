/*
errors.go - Centralized error types for the ledger core

ERROR CATEGORIES:
  1. Client errors  - invalid amounts, reference misuse, unknown accounts
  2. Contention     - per-account serialization timeouts
  3. Store errors   - I/O failures in the durable-store collaborator

A duplicate reference is deliberately NOT in this taxonomy as a failure:
callers receive the originally computed result, which is what makes retried
requests safe. ErrDuplicateReference exists so internal layers can signal
"already applied" without treating it as a fault.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/campusworks/bursar-engine/storage"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a payment or charge amount is zero
	// or negative. Rejected before any side effect.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicateReference signals that a reference was already applied
	// with an identical payload. Not a failure: the caller gets the
	// original result unchanged.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrReferenceConflict is returned when a reference is reused with a
	// different amount, type, or period. A hard client error.
	ErrReferenceConflict = errors.New("reference conflict")

	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned by account creation when the
	// (student, term) pair already has an account.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountBusy is returned when the per-account serialization slot
	// cannot be acquired within the bounded timeout. Retry with backoff.
	ErrAccountBusy = errors.New("account busy")

	// ErrIllegalTransition is returned for any status change other than
	// PENDING -> COMPLETED/FAILED. Completed transactions are immutable.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ReferenceConflictError reports a reference reused with a different payload.
type ReferenceConflictError struct {
	AccountID AccountID
	Reference string
	Existing  TransactionID
}

func (e *ReferenceConflictError) Error() string {
	return fmt.Sprintf("reference %q already used on account %s with a different payload (tx: %s)",
		e.Reference, e.AccountID, e.Existing)
}

func (e *ReferenceConflictError) Unwrap() error {
	return ErrReferenceConflict
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with the
// same reference. Store failures are treated as "not applied": nothing
// committed, so resubmitting the same reference is safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAccountBusy) ||
		errors.Is(err, storage.ErrUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrReferenceConflict) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrIllegalTransition)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
