package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Store implementation for deployed instances. The
// idempotency guarantee is enforced by a partial unique index on
// ledger_entries(action_id) WHERE success, so duplicate suppression works
// across processes without in-process locking.
//
// Expected schema:
//
//	CREATE TABLE accounts (
//	    user_id TEXT PRIMARY KEY,
//	    balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
//	);
//
//	CREATE TABLE ledger_entries (
//	    id              BIGSERIAL PRIMARY KEY,
//	    action_id       TEXT NOT NULL,
//	    user_id         TEXT NOT NULL,
//	    amount          BIGINT NOT NULL,
//	    tool            TEXT NOT NULL,
//	    request_summary TEXT NOT NULL,
//	    result_summary  TEXT NOT NULL,
//	    success         BOOLEAN NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE UNIQUE INDEX ux_ledger_entries_action_success
//	    ON ledger_entries (action_id) WHERE success;
type PostgresStore struct {
	db *pgxpool.Pool
}

// pgUniqueViolation is the SQLSTATE for a unique constraint violation.
const pgUniqueViolation = "23505"

// NewPostgresStore connects to the given database and verifies the
// connection with a ping.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	return &PostgresStore{db: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// Ping verifies the store is reachable. Used by readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ReadBalance returns the current balance for a user, 0 for unknown users.
func (s *PostgresStore) ReadBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx,
		"SELECT balance FROM accounts WHERE user_id = $1", userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read balance: %v", ErrUnavailable, err)
	}
	return balance, nil
}

// TryDebit runs the conditional debit as a single transaction: append the
// success entry (the partial unique index rejects a duplicate action ID),
// then reduce the balance only if it covers the amount.
func (s *PostgresStore) TryDebit(ctx context.Context, userID string, amount int64, actionID string, meta EntryMeta) (DebitResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return DebitResult{}, fmt.Errorf("%w: begin debit tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (action_id, user_id, amount, tool, request_summary, result_summary, success)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
		actionID, userID, amount, meta.Tool,
		truncateSummary(meta.RequestSummary), truncateSummary(meta.ResultSummary),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// A successful entry with this action ID already exists; the
			// prior debit stands and this call is a no-op.
			return DebitResult{AlreadyApplied: true}, nil
		}
		return DebitResult{}, fmt.Errorf("%w: append ledger entry: %v", ErrUnavailable, err)
	}

	tag, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $2 WHERE user_id = $1 AND balance >= $2",
		userID, amount,
	)
	if err != nil {
		return DebitResult{}, fmt.Errorf("%w: update balance: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		// Account missing or balance below amount; the deferred rollback
		// also discards the entry inserted above.
		return DebitResult{}, ErrInsufficientFunds
	}

	if err := tx.Commit(ctx); err != nil {
		return DebitResult{}, fmt.Errorf("%w: commit debit tx: %v", ErrUnavailable, err)
	}

	return DebitResult{Applied: true}, nil
}

// RecordFailure appends a Success=false audit entry outside any balance
// mutation.
func (s *PostgresStore) RecordFailure(ctx context.Context, userID string, amount int64, actionID string, meta EntryMeta) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ledger_entries (action_id, user_id, amount, tool, request_summary, result_summary, success)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		actionID, userID, amount, meta.Tool,
		truncateSummary(meta.RequestSummary), truncateSummary(meta.ResultSummary),
	)
	if err != nil {
		return fmt.Errorf("%w: record failure entry: %v", ErrUnavailable, err)
	}
	return nil
}

// Credit adds amount to a user's balance, creating the account if needed.
func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = accounts.balance + $2`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("%w: credit account: %v", ErrUnavailable, err)
	}
	return nil
}

// Entries returns the transaction log for a user, newest first.
func (s *PostgresStore) Entries(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT action_id, user_id, amount, tool, request_summary, result_summary, created_at, success
		 FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ActionID, &e.UserID, &e.Amount, &e.Tool,
			&e.RequestSummary, &e.ResultSummary, &e.Timestamp, &e.Success); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", ErrUnavailable, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", ErrUnavailable, err)
	}
	return entries, nil
}
