// Package pipeline orchestrates a priced documentation query from
// balance check to idempotent debit.
//
// Each invocation walks a fixed sequence: verify the caller's credit
// balance covers the operation's cost, query the search backend,
// sanitize and redact the answer, then debit the balance exactly once
// under a fresh action identifier. The ordering is deliberate: nothing
// is spent before the balance check passes, and nothing is charged
// unless a validated answer exists.
//
// Failures surface as typed errors so the tool layer can phrase each
// case distinctly (insufficient balance with the current figures,
// backend not provisioned versus still indexing, validation failure,
// billing failure). When billing fails after the answer was computed,
// the answer is withheld; the ledger keeps the failed attempt for
// reconciliation.
package pipeline
