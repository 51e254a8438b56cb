/*
errors.go - Centralized error types for the lending engine

ERROR CATEGORIES:
  1. Validation errors - bad kind, value, timestamp, account, rate, duration,
     operation id overflow. Always reported, nothing is written.
  2. State errors - sub-loan or operation not found, already repaid, revoked
     or frozen, voiding not allowed.
  3. Arithmetic guards - excess repayment/discount, fixed-point overflow.
  4. Collaborator failures - wrapped hook/transfer errors, abort the batch.

Every failure aborts the whole triggering call. There is no partial commit
and no internal retry.

USAGE:
    if errors.Is(err, lending.ErrExcessAmount) { ... }

    var verr *lending.ValidationError
    if errors.As(err, &verr) { log.Printf("bad field %s", verr.Field) }
*/
package lending

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidKind          = errors.New("invalid operation kind")
	ErrInvalidValue         = errors.New("invalid operation value")
	ErrInvalidAccount       = errors.New("invalid operation account")
	ErrInvalidTimestamp     = errors.New("invalid operation timestamp")
	ErrTimestampTooEarly    = errors.New("operation timestamp before sub-loan start")
	ErrOperationIDOverflow  = errors.New("operation id overflow")
	ErrInvalidRate          = errors.New("rate exceeds width limit")
	ErrInvalidDuration      = errors.New("invalid duration")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidLoanTerms     = errors.New("invalid loan terms")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrCounterpartyConflict = errors.New("conflicting counterparties for sub-loan in batch")

	// State
	ErrSubLoanNotFound   = errors.New("sub-loan not found")
	ErrSubLoanRevoked    = errors.New("sub-loan revoked")
	ErrOperationNotFound = errors.New("operation not found")
	ErrVoidingProhibited = errors.New("operation cannot be voided")
	ErrAlreadyCanceled   = errors.New("operation already canceled")
	ErrAlreadyRevoked    = errors.New("operation already revoked")
	ErrAlreadyFrozen     = errors.New("sub-loan already frozen")
	ErrNotFrozen         = errors.New("sub-loan not frozen")

	// Arithmetic
	ErrExcessAmount       = errors.New("amount exceeds outstanding balance")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// Collaborators
	ErrAddonTreasuryZero = errors.New("addon treasury address is zero")
	ErrProgramNotFound   = errors.New("program not found")
	ErrCollaborator      = errors.New("collaborator failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s=%v", e.Err, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// OperationError binds a failure to the sub-loan and operation it concerns.
type OperationError struct {
	SubLoanID   SubLoanID
	OperationID OperationID
	Kind        OperationKind
	Err         error
}

func (e *OperationError) Error() string {
	if e.OperationID == 0 {
		return fmt.Sprintf("sub-loan %d: %v", e.SubLoanID, e.Err)
	}
	return fmt.Sprintf("sub-loan %d operation %d (%s): %v", e.SubLoanID, e.OperationID, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// ExcessAmountError reports how much of a payment could not be absorbed.
type ExcessAmountError struct {
	SubLoanID SubLoanID
	Amount    uint64
	Leftover  uint64
}

func (e *ExcessAmountError) Error() string {
	return fmt.Sprintf("amount %d exceeds outstanding balance of sub-loan %d by %d",
		e.Amount, e.SubLoanID, e.Leftover)
}

func (e *ExcessAmountError) Unwrap() error { return ErrExcessAmount }

// CollaboratorError wraps a failing hook or transfer.
type CollaboratorError struct {
	Hook string
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Hook, e.Err)
}

func (e *CollaboratorError) Unwrap() []error { return []error{ErrCollaborator, e.Err} }

func invalid(field string, value any, err error) error {
	return &ValidationError{Field: field, Value: value, Err: err}
}

func collaboratorErr(hook string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Hook: hook, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidationError returns true if the error is due to invalid client input.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, ErrTimestampTooEarly) ||
		errors.Is(err, ErrOperationIDOverflow) ||
		errors.Is(err, ErrInvalidLoanTerms) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrCounterpartyConflict)
}

// IsStateError returns true if the request conflicts with current state.
func IsStateError(err error) bool {
	return errors.Is(err, ErrSubLoanRevoked) ||
		errors.Is(err, ErrVoidingProhibited) ||
		errors.Is(err, ErrAlreadyCanceled) ||
		errors.Is(err, ErrAlreadyRevoked) ||
		errors.Is(err, ErrAlreadyFrozen) ||
		errors.Is(err, ErrNotFrozen) ||
		errors.Is(err, ErrExcessAmount)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubLoanNotFound) ||
		errors.Is(err, ErrOperationNotFound) ||
		errors.Is(err, ErrProgramNotFound)
}
