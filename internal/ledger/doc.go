// Package ledger implements the prepaid credit ledger that backs priced
// MCP operations.
//
// The ledger tracks one balance per user plus an append-only log of every
// debit attempt. All balance mutation flows through a single conditional
// write path, Store.TryDebit, which is keyed on an action ID so that
// client-side retries of the same logical invocation can never charge a
// user twice.
//
// Components:
//   - Store: the storage contract plus two implementations, an in-process
//     MemoryStore for stdio/development use and a PostgresStore for
//     deployed instances.
//   - Guard: a side-effect-free balance check used before any priced work
//     is started.
//   - Executor: the idempotent debit executor with bounded retry for
//     transient store failures.
//
// Example usage:
//
//	store := ledger.NewMemoryStore()
//	guard := ledger.NewGuard(store)
//
//	check, err := guard.CheckBalance(ctx, userID, cost)
//	if err != nil || !check.Sufficient {
//	    // reject before doing any priced work
//	}
//
//	exec := ledger.NewExecutor(store)
//	err = exec.Debit(ctx, ledger.DebitRequest{
//	    UserID:   userID,
//	    Amount:   cost,
//	    ActionID: actionID,
//	    Tool:     "docs_search",
//	})
package ledger
