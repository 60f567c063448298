package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps a Store and fails the first failures TryDebit calls
// with a transient error.
type flakyStore struct {
	Store
	failures int
	calls    int
}

func (f *flakyStore) TryDebit(ctx context.Context, userID string, amount int64, actionID string, meta EntryMeta) (DebitResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return DebitResult{}, fmt.Errorf("%w: simulated timeout", ErrUnavailable)
	}
	return f.Store.TryDebit(ctx, userID, amount, actionID, meta)
}

func newTestExecutor(store Store) *Executor {
	// Tight backoff to keep the test fast.
	return NewExecutor(store, WithBackoffBase(time.Millisecond))
}

func TestExecutor_Debit_Success(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "alice", 10))

	exec := newTestExecutor(store)
	res, err := exec.Debit(ctx, DebitRequest{
		UserID:   "alice",
		Amount:   3,
		ActionID: "action-1",
		Meta:     EntryMeta{Tool: "docs_search"},
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	balance, err := store.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
}

func TestExecutor_Debit_RecoversFromTransientFailure(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Credit(ctx, "alice", 10))
	flaky := &flakyStore{Store: mem, failures: 2}

	exec := newTestExecutor(flaky)
	res, err := exec.Debit(ctx, DebitRequest{
		UserID:   "alice",
		Amount:   3,
		ActionID: "action-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 3, flaky.calls)

	balance, err := mem.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance, "retries reuse the action ID, only one debit lands")
}

func TestExecutor_Debit_ExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Credit(ctx, "alice", 10))
	flaky := &flakyStore{Store: mem, failures: 100}

	exec := newTestExecutor(flaky)
	_, err := exec.Debit(ctx, DebitRequest{
		UserID:   "alice",
		Amount:   3,
		ActionID: "action-1",
	})
	assert.ErrorIs(t, err, ErrDebitFailed)
	assert.Equal(t, 3, flaky.calls, "retry budget is capped")

	// Balance untouched, failed attempt is on the audit log.
	balance, err := mem.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	entries, err := mem.Entries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "action-1", entries[0].ActionID)
}

func TestExecutor_Debit_DuplicateActionIDIsSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "alice", 10))

	exec := newTestExecutor(store)
	req := DebitRequest{UserID: "alice", Amount: 3, ActionID: "action-1"}

	first, err := exec.Debit(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := exec.Debit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)

	balance, err := store.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance, "balance changes exactly once")
}

func TestExecutor_Debit_InsufficientFundsNotRetried(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Credit(ctx, "bob", 2))
	flaky := &flakyStore{Store: mem, failures: 0}

	exec := newTestExecutor(flaky)
	_, err := exec.Debit(ctx, DebitRequest{
		UserID:   "bob",
		Amount:   3,
		ActionID: "action-1",
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1, flaky.calls, "permanent errors are not retried")
}
