package admission

import (
	"context"
	"fmt"
	"time"
)

// CoarseCooldown is the minimum gap between two full evaluation cycles for
// the same account, independent of per-trigger-type cooldowns. Both layers
// must pass; this one suppresses entire cycles rather than rate-limiting them.
const CoarseCooldown = 24 * time.Hour

// Eligibility reason codes.
const (
	EligibilityUserInitiated  = "USER_INITIATED_BYPASS"
	EligibilityCooldownActive = "ACCOUNT_COOLDOWN_ACTIVE"
	EligibilityDebounceActive = "TRIGGER_DEBOUNCE_ACTIVE"
	EligibilityElapsed        = "COOLDOWN_ELAPSED"
	EligibilityNeverEvaluated = "NEVER_EVALUATED"
)

// Eligibility is the result of the coarse trigger evaluation.
type Eligibility struct {
	ShouldEvaluate bool
	Reason         string
	CooldownUntil  *time.Time
}

// Evaluator applies the coarse account-level checks above the cost gate and
// the admission lock: per-trigger-type debounce and the account cooldown.
// User-initiated triggers always bypass the cooldown; event-driven and
// periodic triggers are eligible only once it has elapsed.
type Evaluator struct {
	states   *RunStateStore
	registry Registry
	now      func() time.Time
}

// NewEvaluator creates an evaluator over the run-state store.
func NewEvaluator(states *RunStateStore, registry Registry) *Evaluator {
	return &Evaluator{states: states, registry: registry, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (e *Evaluator) SetClock(now func() time.Time) { e.now = now }

// ShouldEvaluate reports whether a full evaluation cycle may even be
// considered for the account. scheduledAt is the trigger's own timestamp: a
// trigger younger than its type's debounce window is not yet considered, and
// CooldownUntil carries the instant it becomes eligible.
func (e *Evaluator) ShouldEvaluate(ctx context.Context, tenantID, accountID, triggerType string, scheduledAt time.Time) (Eligibility, error) {
	if triggerType == TriggerUserInitiated {
		return Eligibility{ShouldEvaluate: true, Reason: EligibilityUserInitiated}, nil
	}

	if entry, known := e.registry.Lookup(triggerType); known && entry.DebounceSeconds > 0 && !scheduledAt.IsZero() {
		readyAt := scheduledAt.UTC().Add(time.Duration(entry.DebounceSeconds) * time.Second)
		if e.now().UTC().Before(readyAt) {
			return Eligibility{ShouldEvaluate: false, Reason: EligibilityDebounceActive, CooldownUntil: &readyAt}, nil
		}
	}

	rs, err := e.states.Get(ctx, tenantID, accountID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("reading run state for eligibility: %w", err)
	}
	if rs == nil {
		return Eligibility{ShouldEvaluate: true, Reason: EligibilityNeverEvaluated}, nil
	}

	lastEval := time.Unix(rs.LastAllowedEpoch, 0).UTC()
	until := lastEval.Add(CoarseCooldown)
	if e.now().UTC().Before(until) {
		return Eligibility{ShouldEvaluate: false, Reason: EligibilityCooldownActive, CooldownUntil: &until}, nil
	}
	return Eligibility{ShouldEvaluate: true, Reason: EligibilityElapsed}, nil
}
