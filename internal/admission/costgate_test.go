package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func eligibleInput() GateInput {
	return GateInput{
		TriggerType:         TriggerSignalArrived,
		Entry:               RegistryEntry{CooldownSeconds: 300, MaxPerAccountHour: 4},
		EntryKnown:          true,
		BudgetRemaining:     5,
		RecencyLastRunEpoch: 0,
		NowEpoch:            1_900_000_000,
	}
}

func TestEvaluateGate_UnknownTrigger(t *testing.T) {
	in := eligibleInput()
	in.EntryKnown = false
	dec := EvaluateGate(in)
	assert.Equal(t, GateSkip, dec.Result)
	assert.Equal(t, ReasonUnknownTriggerType, dec.Reason)
}

func TestEvaluateGate_BudgetExhausted(t *testing.T) {
	in := eligibleInput()
	in.BudgetRemaining = 0
	dec := EvaluateGate(in)
	assert.Equal(t, GateSkip, dec.Result)
	assert.Equal(t, ReasonBudgetExhausted, dec.Reason)
}

func TestEvaluateGate_CooldownDefer(t *testing.T) {
	now := int64(1_900_000_000)
	in := eligibleInput()
	in.NowEpoch = now
	in.RecencyLastRunEpoch = now - 60
	in.Entry.CooldownSeconds = 300

	dec := EvaluateGate(in)
	assert.Equal(t, GateDefer, dec.Result)
	assert.Equal(t, ReasonCooldown, dec.Reason)
	assert.Equal(t, in.RecencyLastRunEpoch+300, dec.DeferUntilEpoch)
	assert.Equal(t, int64(240), dec.RetryAfterSeconds)
}

func TestEvaluateGate_SaturationSkip(t *testing.T) {
	in := eligibleInput()
	in.ActionSaturationScore = 1.0
	dec := EvaluateGate(in)
	assert.Equal(t, GateSkip, dec.Result)
	assert.Equal(t, ReasonMarginalValueLow, dec.Reason)
}

func TestEvaluateGate_Allow(t *testing.T) {
	dec := EvaluateGate(eligibleInput())
	assert.Equal(t, GateAllow, dec.Result)
	assert.Equal(t, ReasonEligible, dec.Reason)
}

func TestEvaluateGate_Deterministic(t *testing.T) {
	in := eligibleInput()
	in.RecencyLastRunEpoch = in.NowEpoch - 60
	first := EvaluateGate(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EvaluateGate(in))
	}
}

func TestEvaluateGate_BudgetCheckedBeforeCooldown(t *testing.T) {
	in := eligibleInput()
	in.BudgetRemaining = 0
	in.RecencyLastRunEpoch = in.NowEpoch - 60
	dec := EvaluateGate(in)
	assert.Equal(t, ReasonBudgetExhausted, dec.Reason)
}
