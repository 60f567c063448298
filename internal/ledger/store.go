package ledger

import (
	"context"
	"errors"
	"time"
)

// maxSummaryLen bounds the request/result summaries stored with each
// ledger entry. Longer values are truncated, never rejected.
const maxSummaryLen = 256

var (
	// ErrUnavailable indicates the ledger store could not be reached or
	// failed transiently. Callers may retry.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrInsufficientFunds indicates the conditional debit was rejected
	// because the balance is lower than the requested amount. Not retryable.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDebitFailed indicates the debit executor exhausted its retry
	// budget without a confirmed debit outcome.
	ErrDebitFailed = errors.New("debit failed")
)

// Entry is one immutable record in the append-only transaction log.
// At most one entry with Success=true may ever exist per ActionID; that
// uniqueness constraint is the idempotency guarantee and is enforced by
// the store, not by callers.
type Entry struct {
	ActionID       string    `json:"actionId"`
	UserID         string    `json:"userId"`
	Amount         int64     `json:"amount"`
	Tool           string    `json:"tool"`
	RequestSummary string    `json:"requestSummary"`
	ResultSummary  string    `json:"resultSummary"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
}

// EntryMeta carries the audit fields recorded alongside a debit attempt.
type EntryMeta struct {
	Tool           string
	RequestSummary string
	ResultSummary  string
}

// DebitResult reports the outcome of a conditional debit.
type DebitResult struct {
	// Applied is true when this call reduced the balance.
	Applied bool

	// AlreadyApplied is true when a successful entry with the same action
	// ID already existed. The balance was not touched by this call.
	AlreadyApplied bool
}

// Store is the contract for durable balance and transaction-log storage.
//
// Implementations must enforce two invariants:
//   - a balance is never observed negative, and
//   - at most one Success=true entry exists per action ID; a second
//     TryDebit with the same action ID reports AlreadyApplied instead of
//     debiting again.
//
// TryDebit is the only operation that reduces a balance, and it must be
// atomic: balance check, balance update and log append either all happen
// or none do.
type Store interface {
	// ReadBalance returns the current balance for a user. Unknown users
	// have balance 0.
	ReadBalance(ctx context.Context, userID string) (int64, error)

	// TryDebit atomically verifies balance >= amount, reduces the balance
	// and appends a Success=true entry keyed on actionID. A duplicate
	// actionID yields DebitResult{AlreadyApplied: true} and no mutation.
	// An insufficient balance yields ErrInsufficientFunds and no mutation.
	TryDebit(ctx context.Context, userID string, amount int64, actionID string, meta EntryMeta) (DebitResult, error)

	// RecordFailure appends a Success=false entry for audit purposes.
	// It never mutates a balance.
	RecordFailure(ctx context.Context, userID string, amount int64, actionID string, meta EntryMeta) error

	// Credit adds amount to a user's balance, creating the account if
	// needed. Used for provisioning and top-ups, not by the pipeline.
	Credit(ctx context.Context, userID string, amount int64) error

	// Entries returns the transaction log for a user, newest first.
	Entries(ctx context.Context, userID string) ([]Entry, error)
}

// truncateSummary bounds a summary string to maxSummaryLen.
func truncateSummary(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	return s[:maxSummaryLen]
}
