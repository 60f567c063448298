package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmeter/docmeter/internal/ledger"
	"github.com/docmeter/docmeter/internal/sanitize"
	"github.com/docmeter/docmeter/internal/search"
)

var testOp = Operation{
	Name: "docs_search",
	Cost: 3,
	Search: search.Options{
		ResultLimit:        8,
		RelevanceThreshold: 0.35,
		Rewrite:            true,
	},
}

type fakeQuerier struct {
	answer *search.Answer
	err    error
	calls  int
}

func (f *fakeQuerier) Query(ctx context.Context, text string, opts search.Options) (*search.Answer, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

// countingStore wraps a Store and counts mutation attempts, so tests
// can assert that rejected invocations never reach the ledger.
type countingStore struct {
	ledger.Store
	tryDebits int
}

func (c *countingStore) TryDebit(ctx context.Context, userID string, amount int64, actionID string, meta ledger.EntryMeta) (ledger.DebitResult, error) {
	c.tryDebits++
	return c.Store.TryDebit(ctx, userID, amount, actionID, meta)
}

func newRunner(t *testing.T, store ledger.Store, q search.Querier) *Runner {
	t.Helper()
	return NewRunner(
		ledger.NewGuard(store),
		ledger.NewExecutor(store, ledger.WithMaxAttempts(3), ledger.WithBackoffBase(1)),
		q,
	)
}

func seedBalance(t *testing.T, store ledger.Store, user string, amount int64) {
	t.Helper()
	require.NoError(t, store.Credit(context.Background(), user, amount))
}

func TestRunChargesOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedBalance(t, store, "alice", 10)
	q := &fakeQuerier{answer: &search.Answer{Text: "<p>Use <b>channels</b> to communicate.</p>"}}

	out, err := newRunner(t, store, q).Run(ctx, Request{UserID: "alice", Query: "channels", Op: testOp})
	require.NoError(t, err)

	assert.Equal(t, "Use channels to communicate.", out.Answer)
	assert.Equal(t, int64(3), out.CreditsCharged)
	assert.False(t, out.AlreadyApplied)
	assert.True(t, out.Security.Sanitized)
	assert.False(t, out.Security.PIIRedacted)
	_, err = uuid.Parse(out.ActionID)
	assert.NoError(t, err, "actionId must be a valid uuid")

	balance, err := store.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)

	entries, err := store.Entries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, out.ActionID, entries[0].ActionID)
	assert.True(t, entries[0].Success)
}

func TestRunRejectsInsufficientBalanceBeforeSpending(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: ledger.NewMemoryStore()}
	seedBalance(t, store, "bob", 2)
	q := &fakeQuerier{answer: &search.Answer{Text: "never seen"}}

	_, err := newRunner(t, store, q).Run(ctx, Request{UserID: "bob", Query: "q", Op: testOp})

	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(2), insufficient.Balance)
	assert.Equal(t, int64(3), insufficient.Cost)

	assert.Zero(t, q.calls, "backend must not be queried")
	assert.Zero(t, store.tryDebits, "ledger must not be touched")

	balance, _ := store.ReadBalance(ctx, "bob")
	assert.Equal(t, int64(2), balance)
	entries, _ := store.Entries(ctx, "bob")
	assert.Empty(t, entries)
}

func TestRunBackendFailureMeansNoCharge(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"still indexing", search.ErrIndexing},
		{"not provisioned", search.ErrNotProvisioned},
		{"generic failure", fmt.Errorf("backend exploded")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &countingStore{Store: ledger.NewMemoryStore()}
			seedBalance(t, store, "carol", 10)
			q := &fakeQuerier{err: tt.err}

			_, err := newRunner(t, store, q).Run(ctx, Request{UserID: "carol", Query: "q", Op: testOp})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			assert.Zero(t, store.tryDebits)
			balance, _ := store.ReadBalance(ctx, "carol")
			assert.Equal(t, int64(10), balance)
		})
	}
}

func TestRunRedactsAnswerAndStillCharges(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedBalance(t, store, "dave", 10)
	q := &fakeQuerier{answer: &search.Answer{Text: "call me at 555-123-4567"}}

	out, err := newRunner(t, store, q).Run(ctx, Request{UserID: "dave", Query: "contact", Op: testOp})
	require.NoError(t, err)

	assert.Equal(t, "call me at "+sanitize.Placeholder, out.Answer)
	assert.True(t, out.Security.PIIRedacted)
	assert.Equal(t, []string{"phone"}, out.Security.PIICategories)

	balance, _ := store.ReadBalance(ctx, "dave")
	assert.Equal(t, int64(7), balance)
}

func TestRunValidationFailureMeansNoCharge(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: ledger.NewMemoryStore()}
	seedBalance(t, store, "erin", 10)
	// Markup-only answer sanitizes to empty text.
	q := &fakeQuerier{answer: &search.Answer{Text: "<div><span></span></div>"}}

	_, err := newRunner(t, store, q).Run(ctx, Request{UserID: "erin", Query: "q", Op: testOp})
	assert.ErrorIs(t, err, sanitize.ErrOutputValidation)

	assert.Zero(t, store.tryDebits)
	balance, _ := store.ReadBalance(ctx, "erin")
	assert.Equal(t, int64(10), balance)
}

// debitRefusingStore accepts reads but fails every debit, simulating a
// ledger outage after the answer was computed.
type debitRefusingStore struct {
	ledger.Store
}

func (d *debitRefusingStore) TryDebit(ctx context.Context, userID string, amount int64, actionID string, meta ledger.EntryMeta) (ledger.DebitResult, error) {
	return ledger.DebitResult{}, fmt.Errorf("%w: simulated outage", ledger.ErrUnavailable)
}

func TestRunWithholdsAnswerOnBillingFailure(t *testing.T) {
	ctx := context.Background()
	inner := ledger.NewMemoryStore()
	store := &debitRefusingStore{Store: inner}
	seedBalance(t, store, "frank", 10)
	q := &fakeQuerier{answer: &search.Answer{Text: "a perfectly good answer"}}

	out, err := newRunner(t, store, q).Run(ctx, Request{UserID: "frank", Query: "q", Op: testOp})

	var billing *BillingError
	require.ErrorAs(t, err, &billing)
	assert.ErrorIs(t, err, ledger.ErrDebitFailed)
	assert.Nil(t, out, "answer must be withheld when billing fails")

	balance, _ := store.ReadBalance(ctx, "frank")
	assert.Equal(t, int64(10), balance)

	entries, _ := store.Entries(ctx, "frank")
	require.Len(t, entries, 1, "failed attempt must be recorded for audit")
	assert.False(t, entries[0].Success)
	assert.Equal(t, billing.ActionID, entries[0].ActionID)
}

// alreadyAppliedStore reports every debit as a duplicate of a prior
// successful one.
type alreadyAppliedStore struct {
	ledger.Store
}

func (a *alreadyAppliedStore) TryDebit(ctx context.Context, userID string, amount int64, actionID string, meta ledger.EntryMeta) (ledger.DebitResult, error) {
	return ledger.DebitResult{AlreadyApplied: true}, nil
}

func TestRunTreatsDuplicateDebitAsSuccess(t *testing.T) {
	ctx := context.Background()
	store := &alreadyAppliedStore{Store: ledger.NewMemoryStore()}
	seedBalance(t, store, "grace", 10)
	q := &fakeQuerier{answer: &search.Answer{Text: "answer"}}

	out, err := newRunner(t, store, q).Run(ctx, Request{UserID: "grace", Query: "q", Op: testOp})
	require.NoError(t, err)
	assert.True(t, out.AlreadyApplied)

	balance, _ := store.ReadBalance(ctx, "grace")
	assert.Equal(t, int64(10), balance, "duplicate debit must not change the balance")
}

func TestRunPreconditions(t *testing.T) {
	store := ledger.NewMemoryStore()
	q := &fakeQuerier{answer: &search.Answer{Text: "answer"}}
	r := newRunner(t, store, q)

	_, err := r.Run(context.Background(), Request{UserID: "", Query: "q", Op: testOp})
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = r.Run(context.Background(), Request{UserID: "u", Query: "   ", Op: testOp})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	assert.Zero(t, q.calls)
}

func TestRunCancellationBeforeDebitLeavesBalance(t *testing.T) {
	store := &countingStore{Store: ledger.NewMemoryStore()}
	seedBalance(t, store, "henry", 10)
	q := &fakeQuerier{answer: &search.Answer{Text: "answer"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newRunner(t, store, q).Run(ctx, Request{UserID: "henry", Query: "q", Op: testOp})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, store.tryDebits)
	balance, _ := store.ReadBalance(context.Background(), "henry")
	assert.Equal(t, int64(10), balance)
}
