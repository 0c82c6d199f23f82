// Package schedule provides a durable one-time scheduler for deferred trigger
// re-delivery: each row fires at most once and is deleted on claim, giving the
// pipeline its bounded-retry contract (exactly one automatic re-attempt per
// deferred decision, never a retry loop).
package schedule

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/vantage-io/vantage/internal/events"
	vanotel "github.com/vantage-io/vantage/internal/otel"
)

var tracer = vanotel.Tracer("github.com/vantage-io/vantage/internal/schedule")

// RetryKey derives the idempotency key for a deferred re-delivery. The
// original key is never reused: a deferred retry is a brand-new pipeline
// entry, deduplicated under its own key.
func RetryKey(originalKey string, deferUntilEpoch int64) string {
	h := sha256.New()
	h.Write([]byte(originalKey))
	h.Write([]byte("retry"))
	h.Write([]byte(strconv.FormatInt(deferUntilEpoch, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is one pending deferred delivery.
type Entry struct {
	ID          string
	FireAtEpoch int64
	Trigger     events.RunDecision
}

// Store persists deferred deliveries in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the schedule store, creating its table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
	CREATE TABLE IF NOT EXISTS deferred_runs (
		id TEXT PRIMARY KEY,
		fire_at_epoch INTEGER NOT NULL,
		payload_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deferred_fire_at ON deferred_runs(fire_at_epoch);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating deferred_runs schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Defer schedules exactly one future re-delivery of the trigger at
// deferUntilEpoch, under a fresh retry-derived idempotency key. It returns
// the rescheduled trigger event as it will be re-delivered.
func (s *Store) Defer(ctx context.Context, trigger events.RunDecision, deferUntilEpoch int64) (events.RunDecision, error) {
	ctx, span := tracer.Start(ctx, "schedule.defer")
	defer span.End()

	// ScheduledAt stays the trigger's original timestamp: the retry is a
	// re-delivery of the same trigger, and the debounce window is measured
	// from when it first occurred. The fire time lives in the row.
	retry := trigger
	retry.IdempotencyKey = RetryKey(trigger.IdempotencyKey, deferUntilEpoch)

	payload, err := json.Marshal(retry)
	if err != nil {
		return events.RunDecision{}, fmt.Errorf("marshaling deferred trigger: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deferred_runs (id, fire_at_epoch, payload_json, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), deferUntilEpoch, string(payload), s.now().UTC(),
	)
	if err != nil {
		return events.RunDecision{}, fmt.Errorf("scheduling deferred run: %w", err)
	}
	return retry, nil
}

// Due returns entries whose fire time has passed.
func (s *Store) Due(ctx context.Context, nowEpoch int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fire_at_epoch, payload_json FROM deferred_runs WHERE fire_at_epoch <= ? ORDER BY fire_at_epoch ASC`,
		nowEpoch,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	var corrupt []string
	for rows.Next() {
		var e Entry
		var payload string
		if err := rows.Scan(&e.ID, &e.FireAtEpoch, &payload); err != nil {
			return nil, fmt.Errorf("scanning due run: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Trigger); err != nil {
			// An undecodable payload can never fire; leaving the row would
			// re-scan it forever.
			log.Warn().Err(err).Str("deferred_run_id", e.ID).Msg("deferred_run_payload_corrupt")
			corrupt = append(corrupt, e.ID)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range corrupt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM deferred_runs WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("purging corrupt deferred run: %w", err)
		}
	}
	return entries, nil
}

// Claim deletes the entry and reports whether this caller won it. Deleting
// before dispatch is what makes each entry fire at most once even under
// concurrent sweeps.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deferred_runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("claiming deferred run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading claim result: %w", err)
	}
	return rows == 1, nil
}

// Pending returns the number of scheduled entries (for status endpoints and tests).
func (s *Store) Pending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deferred_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting deferred runs: %w", err)
	}
	return n, nil
}
