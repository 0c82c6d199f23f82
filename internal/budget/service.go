// Package budget tracks per-account decision-count and cost allowances in
// SQLite. Rows are lazily initialized from tenant defaults on first touch, and
// consumption is an atomic conditional decrement.
package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Check outcomes for CanEvaluateDecision.
const (
	StatusAvailable       = "BUDGET_AVAILABLE"
	StatusDailyExceeded   = "DAILY_BUDGET_EXCEEDED"
	StatusMonthlyExceeded = "MONTHLY_BUDGET_EXCEEDED"
)

// ErrBudgetConditionFailed means an atomic consume found insufficient balance
// after an earlier check said the budget was available. The gate and the
// decrement race by design, but a loss here is rare enough to treat as an
// anomaly rather than a control-flow branch.
var ErrBudgetConditionFailed = errors.New("budget conditional decrement failed")

// Defaults are the allowances a fresh account row starts with.
type Defaults struct {
	DailyDecisions int
	MonthlyCost    float64
}

// Snapshot is the current balance for one account.
type Snapshot struct {
	TenantID                string
	AccountID               string
	DailyDecisionsRemaining int
	MonthlyCostRemaining    float64
	MonthKey                string
}

// Service is the budget ledger.
type Service struct {
	db       *sql.DB
	defaults Defaults

	now func() time.Time
}

// NewService opens (or creates) the ledger at dbPath.
func NewService(dbPath string, defaults Defaults) (*Service, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening budget database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS account_budgets (
		tenant_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		daily_decisions_remaining INTEGER NOT NULL,
		monthly_cost_remaining REAL NOT NULL,
		month_key TEXT NOT NULL,
		PRIMARY KEY (tenant_id, account_id)
	);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating budget schema: %w", err)
	}

	return &Service{
		db:       db,
		defaults: defaults,
		now:      time.Now,
	}, nil
}

// Close releases the database connection.
func (s *Service) Close() error {
	return s.db.Close()
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) monthKey() string {
	return s.now().UTC().Format("2006-01")
}

// ensureRow lazily initializes the account's row from the defaults and rolls
// the monthly allowance over when the calendar month has changed. Both
// statements are idempotent, so concurrent callers are safe.
func (s *Service) ensureRow(ctx context.Context, tenantID, accountID string) error {
	month := s.monthKey()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO account_budgets
			(tenant_id, account_id, daily_decisions_remaining, monthly_cost_remaining, month_key)
		VALUES (?, ?, ?, ?, ?)`,
		tenantID, accountID, s.defaults.DailyDecisions, s.defaults.MonthlyCost, month)
	if err != nil {
		return fmt.Errorf("initializing budget row: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE account_budgets
		SET monthly_cost_remaining = ?, month_key = ?
		WHERE tenant_id = ? AND account_id = ? AND month_key != ?`,
		s.defaults.MonthlyCost, month, tenantID, accountID, month)
	if err != nil {
		return fmt.Errorf("rolling monthly budget: %w", err)
	}
	return nil
}

// CanEvaluateDecision is the read-only pre-check. It never consumes anything.
func (s *Service) CanEvaluateDecision(ctx context.Context, tenantID, accountID string) (string, error) {
	if err := s.ensureRow(ctx, tenantID, accountID); err != nil {
		return "", err
	}

	var daily int
	var monthly float64
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_decisions_remaining, monthly_cost_remaining
		FROM account_budgets
		WHERE tenant_id = ? AND account_id = ?`,
		tenantID, accountID).Scan(&daily, &monthly)
	if err != nil {
		return "", fmt.Errorf("reading budget row: %w", err)
	}

	switch {
	case daily <= 0:
		return StatusDailyExceeded, nil
	case monthly <= 0:
		return StatusMonthlyExceeded, nil
	default:
		return StatusAvailable, nil
	}
}

// ConsumeBudget atomically takes one decision from the daily allowance and
// cost from the monthly allowance. The decrement is conditional on sufficient
// balance; a failed condition is surfaced as ErrBudgetConditionFailed.
func (s *Service) ConsumeBudget(ctx context.Context, tenantID, accountID string, cost float64) error {
	if err := s.ensureRow(ctx, tenantID, accountID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE account_budgets
		SET daily_decisions_remaining = daily_decisions_remaining - 1,
		    monthly_cost_remaining = monthly_cost_remaining - ?
		WHERE tenant_id = ? AND account_id = ?
		  AND daily_decisions_remaining >= 1
		  AND monthly_cost_remaining >= ?`,
		cost, tenantID, accountID, cost)
	if err != nil {
		return fmt.Errorf("consuming budget: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consuming budget: %w", err)
	}
	if rows == 0 {
		log.Error().
			Str("tenant_id", tenantID).
			Str("account_id", accountID).
			Float64("cost", cost).
			Msg("budget_consume_condition_failed")
		return fmt.Errorf("%w: tenant=%s account=%s", ErrBudgetConditionFailed, tenantID, accountID)
	}
	return nil
}

// ResetDaily restores one account's daily decision allowance to the default.
// Invoked explicitly (CLI or an external schedule), never by a sweep.
func (s *Service) ResetDaily(ctx context.Context, tenantID, accountID string) error {
	if err := s.ensureRow(ctx, tenantID, accountID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE account_budgets
		SET daily_decisions_remaining = ?
		WHERE tenant_id = ? AND account_id = ?`,
		s.defaults.DailyDecisions, tenantID, accountID)
	if err != nil {
		return fmt.Errorf("resetting daily budget: %w", err)
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("account_id", accountID).
		Int("daily_decisions", s.defaults.DailyDecisions).
		Msg("budget_daily_reset")
	return nil
}

// ResetDailyAll restores the daily decision allowance for every tracked
// account and returns the number of rows touched. Run from the CLI, typically
// under an external daily schedule.
func (s *Service) ResetDailyAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_budgets
		SET daily_decisions_remaining = ?`,
		s.defaults.DailyDecisions)
	if err != nil {
		return 0, fmt.Errorf("resetting daily budgets: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reset rows: %w", err)
	}

	log.Info().
		Int64("accounts", rows).
		Int("daily_decisions", s.defaults.DailyDecisions).
		Msg("budget_daily_reset_all")
	return rows, nil
}

// Remaining returns the current balance for one account.
func (s *Service) Remaining(ctx context.Context, tenantID, accountID string) (*Snapshot, error) {
	if err := s.ensureRow(ctx, tenantID, accountID); err != nil {
		return nil, err
	}

	snap := &Snapshot{TenantID: tenantID, AccountID: accountID}
	err := s.db.QueryRowContext(ctx, `
		SELECT daily_decisions_remaining, monthly_cost_remaining, month_key
		FROM account_budgets
		WHERE tenant_id = ? AND account_id = ?`,
		tenantID, accountID).Scan(&snap.DailyDecisionsRemaining, &snap.MonthlyCostRemaining, &snap.MonthKey)
	if err != nil {
		return nil, fmt.Errorf("reading budget row: %w", err)
	}
	return snap, nil
}
