package budget

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, defaults Defaults) *Service {
	t.Helper()
	dbPath := "file:" + filepath.Join(t.TempDir(), "budget.db") + "?_busy_timeout=10000"
	svc, err := NewService(dbPath, defaults)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestCanEvaluateDecision_LazyInit(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 10, MonthlyCost: 50})
	ctx := context.Background()

	status, err := svc.CanEvaluateDecision(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, status)

	snap, err := svc.Remaining(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 10, snap.DailyDecisionsRemaining)
	assert.Equal(t, 50.0, snap.MonthlyCostRemaining)
}

func TestConsumeBudget_Decrements(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 3, MonthlyCost: 1.0})
	ctx := context.Background()

	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 0.25))

	snap, err := svc.Remaining(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.DailyDecisionsRemaining)
	assert.InDelta(t, 0.75, snap.MonthlyCostRemaining, 1e-9)
}

func TestConsumeBudget_DailyExhaustion(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 2, MonthlyCost: 100})
	ctx := context.Background()

	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 0.1))
	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 0.1))

	status, err := svc.CanEvaluateDecision(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDailyExceeded, status)

	err = svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 0.1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetConditionFailed)
}

func TestConsumeBudget_MonthlyExhaustion(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 100, MonthlyCost: 0.5})
	ctx := context.Background()

	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 0.5))

	status, err := svc.CanEvaluateDecision(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, StatusMonthlyExceeded, status)

	err = svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 0.01)
	assert.ErrorIs(t, err, ErrBudgetConditionFailed)
}

func TestConsumeBudget_ConcurrentNeverOverdraws(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 5, MonthlyCost: 100})
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 0.1)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrBudgetConditionFailed)
		}
	}
	assert.Equal(t, 5, succeeded, "exactly the daily allowance may be consumed")

	snap, err := svc.Remaining(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.DailyDecisionsRemaining)
}

func TestResetDaily_RestoresAllowance(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 2, MonthlyCost: 100})
	ctx := context.Background()

	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 1.0))
	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 1.0))
	require.NoError(t, svc.ResetDaily(ctx, "tenant-1", "acct-1"))

	snap, err := svc.Remaining(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.DailyDecisionsRemaining)
	assert.InDelta(t, 98.0, snap.MonthlyCostRemaining, 1e-9, "daily reset must not touch the monthly allowance")
}

func TestResetDailyAll_SweepsEveryAccount(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 2, MonthlyCost: 100})
	ctx := context.Background()

	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 1.0))
	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-2", 1.0))
	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-2", "acct-9", 1.0))

	rows, err := svc.ResetDailyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)

	for _, acct := range []struct{ tenant, account string }{
		{"tenant-1", "acct-1"},
		{"tenant-1", "acct-2"},
		{"tenant-2", "acct-9"},
	} {
		snap, err := svc.Remaining(ctx, acct.tenant, acct.account)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.DailyDecisionsRemaining)
	}
}

func TestMonthlyRollover(t *testing.T) {
	svc := newTestService(t, Defaults{DailyDecisions: 10, MonthlyCost: 50})
	ctx := context.Background()

	january := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return january })

	require.NoError(t, svc.ConsumeBudget(ctx, "tenant-1", "acct-1", 30))
	snap, err := svc.Remaining(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, snap.MonthlyCostRemaining, 1e-9)

	february := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return february })

	snap, err = svc.Remaining(ctx, "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, snap.MonthlyCostRemaining, 1e-9, "monthly allowance rolls over with the calendar month")
	assert.Equal(t, "2026-02", snap.MonthKey)
}
