package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIdentity means no authenticated user could be resolved
	// for the call. Fatal, never retried.
	ErrMissingIdentity = errors.New("no authenticated user for this request")
	// ErrEmptyQuery rejects queries with no content.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// InsufficientBalanceError is the expected business outcome when the
// caller cannot cover an operation's cost. It carries the figures the
// user needs to act on.
type InsufficientBalanceError struct {
	Balance int64
	Cost    int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d credits available, %d required", e.Balance, e.Cost)
}

// BillingError marks the narrow case where a sanitized answer was
// computed but the debit could not be confirmed after bounded retries.
// The answer is withheld; the wrapped error describes the ledger
// failure.
type BillingError struct {
	ActionID string
	Err      error
}

func (e *BillingError) Error() string {
	return fmt.Sprintf("billing failed for action %s: %v", e.ActionID, e.Err)
}

func (e *BillingError) Unwrap() error { return e.Err }
