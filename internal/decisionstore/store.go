// Package decisionstore persists Decisions to the fraud_decisions table
// (§6.4) and provides the idempotency-gate lookup the stream processor
// uses in step 2 of its main loop (§4.6). Grounded on this codebase's
// pgxpool-based repository shape (constructor over a pool, one method
// per query, sentinel not-found errors, primary-key conflict treated as
// idempotent success) — re-homed from the risk_scores table onto the
// literal fraud_decisions schema defined below.
package decisionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enterprise/fraud-pipeline/internal/domain"
)

// ErrNotFound is returned by GetByTransactionID when no decision exists
// yet for the given transaction id.
var ErrNotFound = errors.New("decision not found")

// Schema is the DDL for the fraud_decisions table (§6.4), issued by
// whatever migration tooling owns this deployment; kept here as the
// literal source of truth the Go types are modeled against.
const Schema = `
CREATE TABLE IF NOT EXISTS fraud_decisions (
	transaction_id TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	decision       TEXT NOT NULL,
	score          DOUBLE PRECISION NOT NULL,
	reasons_csv    TEXT,
	latency_ms     BIGINT NOT NULL,
	evaluated_at   TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fraud_decisions_user_id ON fraud_decisions (user_id);
CREATE INDEX IF NOT EXISTS idx_fraud_decisions_decision ON fraud_decisions (decision);
CREATE INDEX IF NOT EXISTS idx_fraud_decisions_evaluated_at ON fraud_decisions (evaluated_at DESC);
CREATE INDEX IF NOT EXISTS idx_fraud_decisions_user_evaluated ON fraud_decisions (user_id, evaluated_at DESC);
`

// Store is the pgx-backed decision store.
type Store struct {
	pool DBPool
}

// DBPool is the subset of *pgxpool.Pool this package depends on, so
// tests can substitute a hand-written fake pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// New wraps an existing pool.
func New(pool DBPool) *Store {
	return &Store{pool: pool}
}

// NewFromURL connects a pgxpool.Pool sized the way this codebase's
// other Postgres-backed repositories size theirs, with a bounded
// startup ping.
func NewFromURL(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Create inserts a decision. A primary-key conflict on transaction_id is
// treated as an accepted no-op, upholding idempotency under concurrent
// reprocessing (§4.6 step 9, §4.7, §7).
func (s *Store) Create(ctx context.Context, d domain.Decision) error {
	const query = `
		INSERT INTO fraud_decisions (transaction_id, user_id, decision, score, reasons_csv, latency_ms, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query,
		d.TransactionID, d.UserID, string(d.Decision), d.Score, d.ReasonsCSV(), d.LatencyMs, d.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetByTransactionID is the idempotency-gate lookup: it returns
// ErrNotFound when no decision exists yet for transactionID.
func (s *Store) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Decision, error) {
	const query = `
		SELECT transaction_id, user_id, decision, score, reasons_csv, latency_ms, evaluated_at
		FROM fraud_decisions
		WHERE transaction_id = $1
	`

	row := s.pool.QueryRow(ctx, query, transactionID)

	var (
		d         domain.Decision
		decision  string
		reasonCSV string
	)
	err := row.Scan(&d.TransactionID, &d.UserID, &decision, &d.Score, &reasonCSV, &d.LatencyMs, &d.EvaluatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}

	d.Decision = domain.Category(decision)
	d.Reasons = domain.ReasonsFromCSV(reasonCSV)
	return &d, nil
}

// Exists reports whether a decision already exists for transactionID —
// the stream processor's idempotency gate (§4.6 step 2).
func (s *Store) Exists(ctx context.Context, transactionID string) (bool, error) {
	_, err := s.GetByTransactionID(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
