package admission

// The cost gate is a pure, deterministic pre-filter that runs before the
// authoritative admission lock. It is intentionally cheaper and advisory: it
// avoids paying for an atomic write attempt when a request is obviously
// ineligible. The lock in runstate.go remains the true mutual-exclusion
// mechanism, so a race between this gate and the lock is expected and
// harmless — the lock can still reject what the gate allowed.

// GateResult is the outcome class of a cost-gate evaluation.
type GateResult string

const (
	GateAllow GateResult = "ALLOW"
	GateDefer GateResult = "DEFER"
	GateSkip  GateResult = "SKIP"
)

// Cost-gate reason codes.
const (
	ReasonUnknownTriggerType = "UNKNOWN_TRIGGER_TYPE"
	ReasonBudgetExhausted    = "BUDGET_EXHAUSTED"
	ReasonCooldown           = "COOLDOWN"
	ReasonMarginalValueLow   = "MARGINAL_VALUE_LOW"
	ReasonEligible           = "ELIGIBLE"
)

// GateInput is everything the cost gate considers. All fields are plain
// values; the gate performs no I/O.
type GateInput struct {
	TriggerType string
	// Entry is the registry configuration for TriggerType; EntryKnown is
	// false when the trigger type is absent from the registry.
	Entry      RegistryEntry
	EntryKnown bool
	// BudgetRemaining is the account's remaining daily decision allowance.
	BudgetRemaining int
	// RecencyLastRunEpoch is the epoch second of the account's last admitted
	// run for this trigger type; 0 means never run.
	RecencyLastRunEpoch int64
	// ActionSaturationScore approaches 1 as the account accumulates open,
	// unactioned proposals; at >= 1 a new cycle adds no marginal value.
	ActionSaturationScore float64
	NowEpoch              int64
}

// GateDecision is the cost gate's verdict. Identical input always yields an
// identical decision, including the numeric defer fields.
type GateDecision struct {
	Result            GateResult
	Reason            string
	DeferUntilEpoch   int64
	RetryAfterSeconds int64
}

// EvaluateGate applies the fixed evaluation order: unknown trigger, exhausted
// budget, active cooldown, saturation, then allow.
func EvaluateGate(in GateInput) GateDecision {
	if !in.EntryKnown {
		return GateDecision{Result: GateSkip, Reason: ReasonUnknownTriggerType}
	}
	if in.BudgetRemaining <= 0 {
		return GateDecision{Result: GateSkip, Reason: ReasonBudgetExhausted}
	}
	if in.RecencyLastRunEpoch > 0 {
		elapsed := in.NowEpoch - in.RecencyLastRunEpoch
		if elapsed < in.Entry.CooldownSeconds {
			return GateDecision{
				Result:            GateDefer,
				Reason:            ReasonCooldown,
				DeferUntilEpoch:   in.RecencyLastRunEpoch + in.Entry.CooldownSeconds,
				RetryAfterSeconds: in.Entry.CooldownSeconds - elapsed,
			}
		}
	}
	if in.ActionSaturationScore >= 1 {
		return GateDecision{Result: GateSkip, Reason: ReasonMarginalValueLow}
	}
	return GateDecision{Result: GateAllow, Reason: ReasonEligible}
}
