// Package idempotency deduplicates pipeline entries by caller-supplied key.
//
// Reserve is a conditional "create if absent" write: exactly one caller among
// any set of concurrent or duplicate callers using the same key sees Reserved;
// the rest see AlreadyExists and must short-circuit with no further side
// effects. Records expire after a fixed TTL, after which the same key may be
// reserved again — duplicate suppression is time-bounded, not permanent.
package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	vanotel "github.com/vantage-io/vantage/internal/otel"
)

var tracer = vanotel.Tracer("github.com/vantage-io/vantage/internal/idempotency")

// TTL is the fixed window during which a reserved key suppresses duplicates.
const TTL = 24 * time.Hour

// Outcome is the two-variant result of a reservation attempt. A collision is
// a normal outcome, not an error.
type Outcome int

const (
	// Reserved means this caller won the conditional insert.
	Reserved Outcome = iota
	// AlreadyExists means another caller holds this key within its TTL.
	AlreadyExists
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	if o == Reserved {
		return "reserved"
	}
	return "already_exists"
}

// Store persists idempotency records in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the idempotency store, creating its table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		reserved_at_epoch INTEGER NOT NULL,
		expires_at_epoch INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys(expires_at_epoch);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating idempotency schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Reserve attempts to reserve the key. Expired records are purged first so a
// key freed by TTL expiry can be re-reserved; both steps run in one
// transaction so concurrent callers still resolve to exactly one Reserved.
func (s *Store) Reserve(ctx context.Context, key string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "idempotency.reserve",
		trace.WithAttributes(attribute.String("idempotency.key", key)))
	defer span.End()

	now := s.now().UTC()
	nowEpoch := now.Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AlreadyExists, fmt.Errorf("beginning reservation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key = ? AND expires_at_epoch <= ?`,
		key, nowEpoch,
	); err != nil {
		return AlreadyExists, fmt.Errorf("purging expired key: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys (key, reserved_at_epoch, expires_at_epoch) VALUES (?, ?, ?)`,
		key, nowEpoch, now.Add(TTL).Unix(),
	)
	if err != nil {
		return AlreadyExists, fmt.Errorf("reserving key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return AlreadyExists, fmt.Errorf("reading reservation result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AlreadyExists, fmt.Errorf("committing reservation: %w", err)
	}

	outcome := AlreadyExists
	if rows == 1 {
		outcome = Reserved
	}
	span.SetAttributes(attribute.String("idempotency.outcome", outcome.String()))
	return outcome, nil
}
