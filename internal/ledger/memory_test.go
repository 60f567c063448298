package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ReadBalance_UnknownUser(t *testing.T) {
	store := NewMemoryStore()

	balance, err := store.ReadBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestMemoryStore_TryDebit_Applies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "alice", 10))

	res, err := store.TryDebit(ctx, "alice", 3, "action-1", EntryMeta{Tool: "docs_search"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.AlreadyApplied)

	balance, err := store.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)

	entries, err := store.Entries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "action-1", entries[0].ActionID)
}

func TestMemoryStore_TryDebit_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "alice", 10))

	first, err := store.TryDebit(ctx, "alice", 3, "action-1", EntryMeta{})
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := store.TryDebit(ctx, "alice", 3, "action-1", EntryMeta{})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.True(t, second.AlreadyApplied)

	// Balance reduced exactly once, exactly one successful entry.
	balance, err := store.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)

	entries, err := store.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryStore_TryDebit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "bob", 2))

	_, err := store.TryDebit(ctx, "bob", 3, "action-2", EntryMeta{})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Balance unchanged, no ledger entry written.
	balance, err := store.ReadBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)

	entries, err := store.Entries(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_BalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "carol", 5))

	actions := []struct {
		amount   int64
		actionID string
	}{
		{3, "a1"},
		{3, "a2"}, // rejected, only 2 left
		{2, "a3"},
		{1, "a4"}, // rejected, balance 0
	}

	for _, a := range actions {
		_, _ = store.TryDebit(ctx, "carol", a.amount, a.actionID, EntryMeta{})
		balance, err := store.ReadBalance(ctx, "carol")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, balance, int64(0))
	}

	balance, err := store.ReadBalance(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestMemoryStore_RecordFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "dave", 10))

	require.NoError(t, store.RecordFailure(ctx, "dave", 3, "action-9", EntryMeta{Tool: "docs_search"}))

	balance, err := store.ReadBalance(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance, "failure entries must not touch the balance")

	entries, err := store.Entries(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestMemoryStore_SummariesTruncated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "erin", 10))

	long := strings.Repeat("x", maxSummaryLen*2)
	_, err := store.TryDebit(ctx, "erin", 1, "action-3", EntryMeta{
		RequestSummary: long,
		ResultSummary:  long,
	})
	require.NoError(t, err)

	entries, err := store.Entries(ctx, "erin")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].RequestSummary, maxSummaryLen)
	assert.Len(t, entries[0].ResultSummary, maxSummaryLen)
}

func TestMemoryStore_EntriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Credit(ctx, "fay", 10))

	_, err := store.TryDebit(ctx, "fay", 1, "first", EntryMeta{})
	require.NoError(t, err)
	_, err = store.TryDebit(ctx, "fay", 1, "second", EntryMeta{})
	require.NoError(t, err)

	entries, err := store.Entries(ctx, "fay")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].ActionID)
	assert.Equal(t, "first", entries[1].ActionID)
}
