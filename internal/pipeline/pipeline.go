// Package pipeline orchestrates the admission and synthesis cycle: dedup,
// eligibility, cost gating, the atomic admission lock, bounded deferral,
// context assembly, synthesis, policy gating, budget consumption, and
// persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantage-io/vantage/internal/admission"
	"github.com/vantage-io/vantage/internal/budget"
	"github.com/vantage-io/vantage/internal/events"
	"github.com/vantage-io/vantage/internal/idempotency"
	vanotel "github.com/vantage-io/vantage/internal/otel"
	"github.com/vantage-io/vantage/internal/policy"
	"github.com/vantage-io/vantage/internal/posture"
	"github.com/vantage-io/vantage/internal/proposal"
	"github.com/vantage-io/vantage/internal/schedule"
	"github.com/vantage-io/vantage/internal/snapshot"
	"github.com/vantage-io/vantage/internal/synth"
)

var tracer = vanotel.Tracer("pipeline")

// ErrValidation classifies malformed trigger input: rejected up front, before
// any side effect.
var ErrValidation = errors.New("invalid trigger")

// Status classifies the terminal outcome of one pipeline entry.
type Status string

const (
	// StatusRequested means the cycle was admitted and a proposal persisted.
	StatusRequested Status = "REQUESTED"
	// StatusDuplicate means the idempotency key was already reserved; the
	// pipeline exited silently.
	StatusDuplicate Status = "DUPLICATE"
	// StatusSkipped covers coarse-cooldown and cost-gate SKIP outcomes.
	StatusSkipped Status = "SKIPPED"
	// StatusDeferred means a single bounded retry was scheduled.
	StatusDeferred Status = "DEFERRED"
	// StatusBudgetExhausted means the daily or monthly allowance is spent.
	StatusBudgetExhausted Status = "BUDGET_EXHAUSTED"
	// StatusNotReady means the materialization gate found the account's
	// latest signal not yet COMPLETED. A non-error outcome.
	StatusNotReady Status = "NOT_READY"
)

// Outcome is what one trigger delivery produced.
type Outcome struct {
	Status          Status
	Reason          string
	DecisionID      string
	TriggerEventID  string
	DeferUntilEpoch int64
}

// Pipeline wires the admission layers to the synthesis path. Every collaborator
// is injected; there are no package-level singletons.
type Pipeline struct {
	keys        *idempotency.Store
	registry    admission.Registry
	runStates   *admission.RunStateStore
	evaluator   *admission.Evaluator
	budgets     *budget.Service
	scheduler   *schedule.Store
	postures    posture.Provider
	assembler   *snapshot.Assembler
	synthesizer *synth.Synthesizer
	proposals   *proposal.Store
	emitter     events.Emitter

	// Saturation scores how much marginal value another cycle adds; >= 1
	// means none. Defaults to zero for every account.
	Saturation func(ctx context.Context, tenantID, accountID string) float64

	now func() time.Time
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Keys        *idempotency.Store
	Registry    admission.Registry
	RunStates   *admission.RunStateStore
	Evaluator   *admission.Evaluator
	Budgets     *budget.Service
	Scheduler   *schedule.Store
	Postures    posture.Provider
	Assembler   *snapshot.Assembler
	Synthesizer *synth.Synthesizer
	Proposals   *proposal.Store
	Emitter     events.Emitter
}

// New creates a pipeline from its collaborators.
func New(d Deps) *Pipeline {
	return &Pipeline{
		keys:        d.Keys,
		registry:    d.Registry,
		runStates:   d.RunStates,
		evaluator:   d.Evaluator,
		budgets:     d.Budgets,
		scheduler:   d.Scheduler,
		postures:    d.Postures,
		assembler:   d.Assembler,
		synthesizer: d.Synthesizer,
		proposals:   d.Proposals,
		emitter:     d.Emitter,
		Saturation:  func(context.Context, string, string) float64 { return 0 },
		now:         time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// HandleTrigger implements schedule.TriggerSink so deferred retries re-enter
// the pipeline as brand-new invocations.
func (p *Pipeline) HandleTrigger(ctx context.Context, trigger events.RunDecision) error {
	_, err := p.Process(ctx, trigger)
	return err
}

// Process runs one trigger through the full admission and synthesis cycle.
func (p *Pipeline) Process(ctx context.Context, trigger events.RunDecision) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("tenant_id", trigger.TenantID),
			attribute.String("account_id", trigger.AccountID),
			attribute.String("trigger_type", trigger.TriggerType),
		))
	defer span.End()

	if err := validateTrigger(trigger); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("tenant_id", trigger.TenantID).
		Str("account_id", trigger.AccountID).
		Str("trigger_type", trigger.TriggerType).
		Str("correlation_id", trigger.CorrelationID).
		Logger()

	// Dedup first: exactly one caller per key gets past this point.
	outcome, err := p.keys.Reserve(ctx, trigger.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("reserving idempotency key: %w", err)
	}
	if outcome == idempotency.AlreadyExists {
		logger.Info().Str("idempotency_key", trigger.IdempotencyKey).Msg("trigger_duplicate_suppressed")
		return &Outcome{Status: StatusDuplicate}, nil
	}

	// Coarse account-level eligibility. Suppresses whole cycles, except that
	// a trigger still inside its debounce window is deferred to the end of
	// the window rather than dropped.
	eligibility, err := p.evaluator.ShouldEvaluate(ctx, trigger.TenantID, trigger.AccountID, trigger.TriggerType, trigger.ScheduledAt)
	if err != nil {
		return nil, fmt.Errorf("evaluating trigger eligibility: %w", err)
	}
	if !eligibility.ShouldEvaluate {
		if eligibility.Reason == admission.EligibilityDebounceActive && eligibility.CooldownUntil != nil {
			readyEpoch := eligibility.CooldownUntil.Unix()
			return p.deferTrigger(ctx, trigger, readyEpoch, readyEpoch-p.now().UTC().Unix())
		}
		logger.Info().Str("reason", eligibility.Reason).Msg("trigger_suppressed")
		return &Outcome{Status: StatusSkipped, Reason: eligibility.Reason}, nil
	}

	state, err := p.runStates.Get(ctx, trigger.TenantID, trigger.AccountID)
	if err != nil {
		return nil, fmt.Errorf("reading run state: %w", err)
	}

	budgetStatus, err := p.budgets.CanEvaluateDecision(ctx, trigger.TenantID, trigger.AccountID)
	if err != nil {
		return nil, fmt.Errorf("checking budget: %w", err)
	}
	remaining, err := p.budgets.Remaining(ctx, trigger.TenantID, trigger.AccountID)
	if err != nil {
		return nil, fmt.Errorf("reading budget: %w", err)
	}
	if budgetStatus != budget.StatusAvailable {
		logger.Info().Str("reason", budgetStatus).Msg("trigger_budget_exhausted")
		return &Outcome{Status: StatusBudgetExhausted, Reason: budgetStatus}, nil
	}

	entry, known := p.registry.Lookup(trigger.TriggerType)
	now := p.now().UTC()
	// Never-admitted accounts have no run state row; recency 0 means never run.
	var lastAllowedEpoch int64
	if state != nil {
		lastAllowedEpoch = state.LastAllowedEpoch
	}
	gate := admission.EvaluateGate(admission.GateInput{
		TriggerType:           trigger.TriggerType,
		Entry:                 entry,
		EntryKnown:            known,
		BudgetRemaining:       remaining.DailyDecisionsRemaining,
		RecencyLastRunEpoch:   lastAllowedEpoch,
		ActionSaturationScore: p.Saturation(ctx, trigger.TenantID, trigger.AccountID),
		NowEpoch:              now.Unix(),
	})

	switch gate.Result {
	case admission.GateSkip:
		logger.Info().Str("reason", gate.Reason).Msg("cost_gate_skip")
		return &Outcome{Status: StatusSkipped, Reason: gate.Reason}, nil
	case admission.GateDefer:
		return p.deferTrigger(ctx, trigger, gate.DeferUntilEpoch, gate.RetryAfterSeconds)
	}

	// Cost gate said ALLOW; the lock is still the authoritative gate and may
	// reject what the gate allowed.
	lock, err := p.runStates.TryAcquire(ctx, trigger.TenantID, trigger.AccountID, trigger.TriggerType, entry)
	if err != nil {
		return nil, fmt.Errorf("acquiring admission lock: %w", err)
	}
	if !lock.Acquired {
		deferUntil := now.Unix() + entry.CooldownSeconds
		logger.Info().Str("reason", lock.Reason).Msg("admission_lock_lost")
		return p.deferTrigger(ctx, trigger, deferUntil, entry.CooldownSeconds)
	}

	triggerEventID := trigger.CorrelationID
	if triggerEventID == "" {
		triggerEventID = uuid.NewString()
	}
	if err := p.emitter.Emit(ctx, events.TypeEvaluationRequested, events.EvaluationRequested{
		AccountID:      trigger.AccountID,
		TenantID:       trigger.TenantID,
		TriggerType:    trigger.TriggerType,
		TriggerEventID: triggerEventID,
	}); err != nil {
		logger.Warn().Err(err).Msg("evaluation_requested_emit_failed")
	}

	return p.runCycle(ctx, logger, trigger, triggerEventID)
}

// runCycle is the post-admission path: materialization gate, assembly,
// synthesis, policy gating, budget consumption, persistence.
func (p *Pipeline) runCycle(ctx context.Context, logger zerolog.Logger, trigger events.RunDecision, triggerEventID string) (*Outcome, error) {
	matGate, err := posture.CheckMaterialization(ctx, p.postures, trigger.TenantID, trigger.AccountID)
	if err != nil {
		return nil, fmt.Errorf("checking materialization: %w", err)
	}
	if !matGate.Ready {
		logger.Info().Str("materialization_status", string(matGate.Status)).Msg("synthesis_skipped_not_completed")
		return &Outcome{Status: StatusNotReady, Reason: string(matGate.Status), TriggerEventID: triggerEventID}, nil
	}

	dc, err := p.assembler.Assemble(ctx, trigger.TenantID, trigger.AccountID)
	if err != nil {
		return nil, fmt.Errorf("assembling decision context: %w", err)
	}

	prop, err := p.synthesizer.Synthesize(ctx, dc)
	if err != nil {
		return nil, fmt.Errorf("synthesizing proposal: %w", err)
	}

	guardrails, err := policy.NewGuardrailEngine(ctx, dc.PolicyContext)
	if err != nil {
		return nil, fmt.Errorf("preparing guardrails: %w", err)
	}
	evaluations, err := policy.NewGate(dc.PolicyContext, guardrails).EvaluateProposal(ctx, prop)
	if err != nil {
		return nil, fmt.Errorf("evaluating policy: %w", err)
	}

	if err := p.budgets.ConsumeBudget(ctx, trigger.TenantID, trigger.AccountID, prop.EstimatedCost); err != nil {
		return nil, fmt.Errorf("consuming budget: %w", err)
	}

	if err := p.proposals.SaveProposal(ctx, prop); err != nil {
		return nil, fmt.Errorf("persisting proposal: %w", err)
	}

	if err := p.emitter.Emit(ctx, events.TypeDecisionProposed, events.DecisionProposed{
		Decision:          prop,
		PolicyEvaluations: evaluations,
	}); err != nil {
		logger.Warn().Err(err).Msg("decision_proposed_emit_failed")
	}

	logger.Info().
		Str("decision_id", prop.DecisionID).
		Str("decision_type", string(prop.DecisionType)).
		Int("action_count", len(prop.Actions)).
		Msg("decision_cycle_completed")

	return &Outcome{Status: StatusRequested, DecisionID: prop.DecisionID, TriggerEventID: triggerEventID}, nil
}

// deferTrigger schedules the single bounded retry under a fresh idempotency
// key and emits the deferred event.
func (p *Pipeline) deferTrigger(ctx context.Context, trigger events.RunDecision, deferUntilEpoch, retryAfterSeconds int64) (*Outcome, error) {
	retry, err := p.scheduler.Defer(ctx, trigger, deferUntilEpoch)
	if err != nil {
		return nil, fmt.Errorf("scheduling deferred retry: %w", err)
	}

	if err := p.emitter.Emit(ctx, events.TypeRunDecisionDeferred, events.RunDecisionDeferred{
		TenantID:               trigger.TenantID,
		AccountID:              trigger.AccountID,
		TriggerType:            trigger.TriggerType,
		IdempotencyKey:         retry.IdempotencyKey,
		CorrelationID:          trigger.CorrelationID,
		DeferUntilEpoch:        deferUntilEpoch,
		RetryAfterSeconds:      retryAfterSeconds,
		OriginalIdempotencyKey: trigger.IdempotencyKey,
	}); err != nil {
		log.Warn().Err(err).Str("idempotency_key", retry.IdempotencyKey).Msg("deferred_event_emit_failed")
	}

	log.Info().
		Str("tenant_id", trigger.TenantID).
		Str("account_id", trigger.AccountID).
		Int64("defer_until_epoch", deferUntilEpoch).
		Int64("retry_after_seconds", retryAfterSeconds).
		Msg("trigger_deferred")

	return &Outcome{Status: StatusDeferred, Reason: admission.ReasonCooldown, DeferUntilEpoch: deferUntilEpoch}, nil
}

func validateTrigger(trigger events.RunDecision) error {
	switch {
	case trigger.TenantID == "":
		return fmt.Errorf("%w: missing tenant_id", ErrValidation)
	case trigger.AccountID == "":
		return fmt.Errorf("%w: missing account_id", ErrValidation)
	case trigger.TriggerType == "":
		return fmt.Errorf("%w: missing trigger_type", ErrValidation)
	case trigger.IdempotencyKey == "":
		return fmt.Errorf("%w: missing idempotency_key", ErrValidation)
	}
	return nil
}
