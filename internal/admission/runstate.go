package admission

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

var tracer = vanotel.Tracer("github.com/vantage-io/vantage/internal/admission")

// Lock-denial reason codes.
const (
	LockReasonCooldown    = "COOLDOWN"
	LockReasonRateLimited = "RATE_LIMITED"
)

// RunState is the per-account admission record. last_allowed_at_epoch is
// non-decreasing; it moves only when a lock acquisition succeeds.
type RunState struct {
	TenantID         string
	AccountID        string
	LastAllowedEpoch int64
	HourBucket       int64
	RunCountThisHour int
	UpdatedAt        time.Time
}

// LockResult is the outcome of a TryAcquire attempt. A denial is an expected
// control-flow outcome routed to deferral, never an error.
type LockResult struct {
	Acquired bool
	Reason   string
}

// RunStateStore holds per-account run state and implements the authoritative
// admission lock as a single atomic conditional upsert.
type RunStateStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunStateStore creates the run-state store, creating its table if needed.
func NewRunStateStore(db *sql.DB) (*RunStateStore, error) {
	_, err := db.ExecContext(context.Background(), `
	CREATE TABLE IF NOT EXISTS run_state (
		tenant_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		last_allowed_at_epoch INTEGER NOT NULL,
		hour_bucket INTEGER NOT NULL,
		run_count_this_hour INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, account_id)
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating run_state schema: %w", err)
	}
	return &RunStateStore{db: db, now: time.Now}, nil
}

// SetClock overrides the time source (tests only).
func (s *RunStateStore) SetClock(now func() time.Time) { s.now = now }

// Get returns the run state for the account, or nil when the account has
// never been admitted.
func (s *RunStateStore) Get(ctx context.Context, tenantID, accountID string) (*RunState, error) {
	var rs RunState
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, account_id, last_allowed_at_epoch, hour_bucket, run_count_this_hour, updated_at
		FROM run_state WHERE tenant_id = ? AND account_id = ?`,
		tenantID, accountID,
	).Scan(&rs.TenantID, &rs.AccountID, &rs.LastAllowedEpoch, &rs.HourBucket, &rs.RunCountThisHour, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading run state: %w", err)
	}
	return &rs, nil
}

// TryAcquire attempts the admission lock for (tenant, account) under the
// trigger type's registry entry. The cooldown check and the rolling-hour cap
// are enforced in the WHERE clause of one conditional upsert, and on success
// last_allowed_at_epoch advances and the hour counter increments in the same
// statement. Under N concurrent attempts inside one cooldown window exactly
// one succeeds.
//
// The hourly counter is keyed by epoch-hour bucket: when the bucket changes
// the counter restarts at 1, which makes run_count_this_hour a true rolling
// window rather than a monotonically growing counter.
func (s *RunStateStore) TryAcquire(ctx context.Context, tenantID, accountID, triggerType string, entry RegistryEntry) (LockResult, error) {
	ctx, span := tracer.Start(ctx, "admission.try_acquire",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("account_id", accountID),
			attribute.String("trigger_type", triggerType),
		))
	defer span.End()

	now := s.now().UTC()
	nowEpoch := now.Unix()
	hourBucket := nowEpoch / 3600

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_state (tenant_id, account_id, last_allowed_at_epoch, hour_bucket, run_count_this_hour, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (tenant_id, account_id) DO UPDATE SET
			last_allowed_at_epoch = excluded.last_allowed_at_epoch,
			run_count_this_hour = CASE
				WHEN run_state.hour_bucket = excluded.hour_bucket THEN run_state.run_count_this_hour + 1
				ELSE 1
			END,
			hour_bucket = excluded.hour_bucket,
			updated_at = excluded.updated_at
		WHERE run_state.last_allowed_at_epoch + ? <= excluded.last_allowed_at_epoch
		  AND (? <= 0
		       OR run_state.hour_bucket != excluded.hour_bucket
		       OR run_state.run_count_this_hour < ?)`,
		tenantID, accountID, nowEpoch, hourBucket, now,
		entry.CooldownSeconds, entry.MaxPerAccountHour, entry.MaxPerAccountHour,
	)
	if err != nil {
		return LockResult{}, fmt.Errorf("acquiring admission lock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return LockResult{}, fmt.Errorf("reading lock result: %w", err)
	}

	if rows == 1 {
		span.SetAttributes(attribute.Bool("admission.acquired", true))
		return LockResult{Acquired: true}, nil
	}

	// Classify the denial from current state. This read is advisory only;
	// the atomic statement above already made the decision.
	reason := LockReasonCooldown
	if rs, err := s.Get(ctx, tenantID, accountID); err == nil && rs != nil {
		if rs.LastAllowedEpoch+entry.CooldownSeconds <= nowEpoch &&
			entry.MaxPerAccountHour > 0 &&
			rs.HourBucket == hourBucket &&
			rs.RunCountThisHour >= entry.MaxPerAccountHour {
			reason = LockReasonRateLimited
		}
	}
	span.SetAttributes(
		attribute.Bool("admission.acquired", false),
		attribute.String("admission.reason", reason),
	)
	return LockResult{Acquired: false, Reason: reason}, nil
}
