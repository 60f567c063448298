package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the reference in-process Store implementation. It is used
// for the stdio transport and in tests. The action-ID uniqueness constraint
// is enforced under a single mutex, which also makes every TryDebit atomic.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[string]bool // action IDs with a Success=true entry
	entries  []Entry
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		applied:  make(map[string]bool),
	}
}

// ReadBalance returns the current balance for a user, 0 for unknown users.
func (s *MemoryStore) ReadBalance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

// TryDebit implements the conditional debit described on the Store
// interface.
func (s *MemoryStore) TryDebit(_ context.Context, userID string, amount int64, actionID string, meta EntryMeta) (DebitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied[actionID] {
		return DebitResult{AlreadyApplied: true}, nil
	}

	if s.balances[userID] < amount {
		return DebitResult{}, ErrInsufficientFunds
	}

	s.balances[userID] -= amount
	s.applied[actionID] = true
	s.entries = append(s.entries, Entry{
		ActionID:       actionID,
		UserID:         userID,
		Amount:         amount,
		Tool:           meta.Tool,
		RequestSummary: truncateSummary(meta.RequestSummary),
		ResultSummary:  truncateSummary(meta.ResultSummary),
		Timestamp:      time.Now().UTC(),
		Success:        true,
	})

	return DebitResult{Applied: true}, nil
}

// RecordFailure appends a Success=false audit entry. The balance is not
// touched.
func (s *MemoryStore) RecordFailure(_ context.Context, userID string, amount int64, actionID string, meta EntryMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{
		ActionID:       actionID,
		UserID:         userID,
		Amount:         amount,
		Tool:           meta.Tool,
		RequestSummary: truncateSummary(meta.RequestSummary),
		ResultSummary:  truncateSummary(meta.ResultSummary),
		Timestamp:      time.Now().UTC(),
		Success:        false,
	})
	return nil
}

// Credit adds amount to a user's balance, creating the account if needed.
func (s *MemoryStore) Credit(_ context.Context, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return nil
}

// Entries returns the transaction log for a user, newest first.
func (s *MemoryStore) Entries(_ context.Context, userID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}
