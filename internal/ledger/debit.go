package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// defaultMaxAttempts caps how often a transient store failure is
	// retried before the debit is declared failed.
	defaultMaxAttempts = 3

	// defaultBackoffBase is the initial retry interval.
	defaultBackoffBase = 100 * time.Millisecond
)

// DebitRequest describes one debit to execute. ActionID is the
// idempotency key for the whole logical invocation: internal retries reuse
// it, so a partially applied prior attempt can never charge twice.
type DebitRequest struct {
	UserID   string
	Amount   int64
	ActionID string
	Meta     EntryMeta
}

// Executor performs debits against a Store with bounded retry for
// transient failures. A duplicate action ID reported by the store is
// treated as success: the money already moved, re-invoking must be a
// no-op.
type Executor struct {
	store       Store
	maxAttempts uint
	backoffBase time.Duration
	logger      *slog.Logger
	notify      func(err error, next time.Duration)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxAttempts overrides the retry attempt cap.
func WithMaxAttempts(n uint) ExecutorOption {
	return func(e *Executor) { e.maxAttempts = n }
}

// WithBackoffBase overrides the initial retry interval.
func WithBackoffBase(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.backoffBase = d }
}

// WithLogger sets the structured logger used for debit outcomes.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithRetryNotify registers a callback invoked before each retry wait,
// used to count debit retries in metrics.
func WithRetryNotify(fn func(err error, next time.Duration)) ExecutorOption {
	return func(e *Executor) { e.notify = fn }
}

// NewExecutor creates an Executor with the default retry policy
// (3 attempts, exponential backoff starting at 100ms).
func NewExecutor(store Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:       store,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Debit executes the conditional debit. It returns the store's result on
// success (Applied or AlreadyApplied). After the retry budget is
// exhausted it appends a Success=false audit entry best-effort and
// returns ErrDebitFailed; insufficient funds and context cancellation are
// returned immediately without retry.
func (e *Executor) Debit(ctx context.Context, req DebitRequest) (DebitResult, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.backoffBase

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(e.maxAttempts),
	}
	if e.notify != nil {
		retryOpts = append(retryOpts, backoff.WithNotify(e.notify))
	}

	attempts := 0
	result, err := backoff.Retry(ctx, func() (DebitResult, error) {
		attempts++
		res, err := e.store.TryDebit(ctx, req.UserID, req.Amount, req.ActionID, req.Meta)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return DebitResult{}, backoff.Permanent(err)
			}
			e.logger.Warn("ledger debit attempt failed",
				"action_id", req.ActionID,
				"attempt", attempts,
				"error", err.Error())
			return DebitResult{}, err
		}
		return res, nil
	}, retryOpts...)

	if err == nil {
		if result.AlreadyApplied {
			e.logger.Info("ledger debit already applied",
				"action_id", req.ActionID)
		}
		return result, nil
	}

	if errors.Is(err, ErrInsufficientFunds) || ctx.Err() != nil {
		return DebitResult{}, err
	}

	// Retries exhausted: leave an audit trail of the failed attempt. The
	// failure entry is best-effort; the store may still be down.
	if recErr := e.store.RecordFailure(context.WithoutCancel(ctx), req.UserID, req.Amount, req.ActionID, req.Meta); recErr != nil {
		e.logger.Warn("failed to record debit failure entry",
			"action_id", req.ActionID,
			"error", recErr.Error())
	}

	return DebitResult{}, fmt.Errorf("%w after %d attempts: %v", ErrDebitFailed, attempts, err)
}
