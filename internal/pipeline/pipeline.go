package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docmeter/docmeter/internal/ledger"
	"github.com/docmeter/docmeter/internal/logging"
	"github.com/docmeter/docmeter/internal/sanitize"
	"github.com/docmeter/docmeter/internal/search"
)

// Operation describes one priced capability: its tool name, its price
// in credits, and the backend tuning it queries with.
type Operation struct {
	Name   string
	Cost   int64
	Search search.Options
}

// Request is one invocation of a priced operation.
type Request struct {
	UserID string
	Query  string
	Op     Operation
}

// SecurityMetadata summarizes what the sanitizer did to the answer.
// Category names only, never matched content.
type SecurityMetadata struct {
	Sanitized     bool     `json:"sanitized"`
	PIIRedacted   bool     `json:"piiRedacted"`
	PIICategories []string `json:"piiCategories,omitempty"`
}

// Outcome is a successful pipeline run: the deliverable answer plus the
// billing and security facts about how it was produced.
type Outcome struct {
	Answer         string
	Sources        []search.Source
	ActionID       string
	CreditsCharged int64
	AlreadyApplied bool
	Security       SecurityMetadata
}

// Recorder receives pipeline events for metrics. All methods must be
// cheap and non-blocking.
type Recorder interface {
	BalanceRejected(ctx context.Context, tool string)
	BackendQuery(ctx context.Context, tool string, d time.Duration, err error)
	Redacted(ctx context.Context, category string)
	Debit(ctx context.Context, result string)
}

type nopRecorder struct{}

func (nopRecorder) BalanceRejected(context.Context, string) {}
func (nopRecorder) BackendQuery(context.Context, string, time.Duration, error) {}
func (nopRecorder) Redacted(context.Context, string) {}
func (nopRecorder) Debit(context.Context, string) {}

// Debit result labels reported to the Recorder.
const (
	DebitApplied        = "applied"
	DebitAlreadyApplied = "already_applied"
	DebitFailed         = "failed"
)

// Runner executes priced operations. Safe for concurrent use; all
// mutable state lives in the ledger store.
type Runner struct {
	guard    *ledger.Guard
	executor *ledger.Executor
	querier  search.Querier
	logger   *slog.Logger
	recorder Recorder
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner wires the pipeline stages together.
func NewRunner(guard *ledger.Guard, executor *ledger.Executor, querier search.Querier, opts ...RunnerOption) *Runner {
	r := &Runner{
		guard:    guard,
		executor: executor,
		querier:  querier,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one priced invocation: balance check, backend query,
// sanitize/redact, idempotent debit. A fresh actionId is generated here
// and reused across every internal debit retry; it is the sole
// idempotency key for the invocation.
//
// Nothing is charged unless a validated answer exists, and no answer is
// delivered unless the charge was confirmed.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if req.UserID == "" {
		return nil, ErrMissingIdentity
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	actionID := uuid.NewString()
	log := r.logger.With(
		logging.Tool(req.Op.Name),
		logging.UserHash(req.UserID),
		logging.ActionID(actionID),
	)

	check, err := r.guard.CheckBalance(ctx, req.UserID, req.Op.Cost)
	if err != nil {
		return nil, err
	}
	if !check.Sufficient {
		r.recorder.BalanceRejected(ctx, req.Op.Name)
		log.Info("rejected for insufficient balance",
			slog.Int64("balance", check.Balance), logging.Credits(req.Op.Cost))
		return nil, &InsufficientBalanceError{Balance: check.Balance, Cost: req.Op.Cost}
	}

	start := time.Now()
	answer, err := r.querier.Query(ctx, query, req.Op.Search)
	r.recorder.BackendQuery(ctx, req.Op.Name, time.Since(start), err)
	if err != nil {
		log.Warn("search backend query failed", logging.Err(err))
		return nil, fmt.Errorf("search backend query failed: %w", err)
	}

	clean := sanitize.Sanitize(answer.Text)
	red := sanitize.Redact(clean)
	if err := sanitize.Validate(red.Text); err != nil {
		log.Warn("answer failed output validation", logging.Err(err))
		return nil, err
	}
	for _, c := range red.Categories {
		r.recorder.Redacted(ctx, c)
	}
	if len(red.Categories) > 0 {
		log.Info("redacted sensitive content from answer",
			slog.Any("categories", red.Categories))
	}

	res, err := r.executor.Debit(ctx, ledger.DebitRequest{
		UserID:   req.UserID,
		Amount:   req.Op.Cost,
		ActionID: actionID,
		Meta: ledger.EntryMeta{
			Tool:           req.Op.Name,
			RequestSummary: query,
			ResultSummary:  red.Text,
		},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// Lost a race with a concurrent spend between check and
			// debit. Same outcome as failing the initial check.
			r.recorder.BalanceRejected(ctx, req.Op.Name)
			recheck, _ := r.guard.CheckBalance(ctx, req.UserID, req.Op.Cost)
			return nil, &InsufficientBalanceError{Balance: recheck.Balance, Cost: req.Op.Cost}
		}
		r.recorder.Debit(ctx, DebitFailed)
		log.Error("debit failed, withholding answer", logging.Err(err))
		return nil, &BillingError{ActionID: actionID, Err: err}
	}

	result := DebitApplied
	if res.AlreadyApplied {
		result = DebitAlreadyApplied
	}
	r.recorder.Debit(ctx, result)
	log.Info("priced query completed",
		logging.Credits(req.Op.Cost), logging.Status(logging.StatusSuccess))

	return &Outcome{
		Answer:         red.Text,
		Sources:        answer.Sources,
		ActionID:       actionID,
		CreditsCharged: req.Op.Cost,
		AlreadyApplied: res.AlreadyApplied,
		Security: SecurityMetadata{
			Sanitized:     true,
			PIIRedacted:   len(red.Categories) > 0,
			PIICategories: red.Categories,
		},
	}, nil
}
