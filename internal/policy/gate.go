package policy

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vantage-io/vantage/internal/decision"
)

// Evaluation is the policy gate's verdict for one action.
type Evaluation string

const (
	Allowed          Evaluation = "ALLOWED"
	Blocked          Evaluation = "BLOCKED"
	ApprovalRequired Evaluation = "APPROVAL_REQUIRED"
)

// Reason codes attached to gate results.
const (
	CodeUnknownActionType        = "UNKNOWN_ACTION_TYPE"
	CodeBlockingUnknownsPresent  = "BLOCKING_UNKNOWNS_PRESENT"
	CodeGuardrailDenied          = "GUARDRAIL_DENIED"
	CodeConfidenceBelowThreshold = "CONFIDENCE_BELOW_THRESHOLD"
	CodeConfidenceBelowMinimum   = "CONFIDENCE_BELOW_MINIMUM"
	CodeTierApprovalRequired     = "TIER_APPROVAL_REQUIRED"
)

// Result is the ephemeral, recomputable evaluation of one action. It is never
// persisted as authoritative state; the gate recomputes it at evaluation time
// and again at approval.
type Result struct {
	ActionRef        string     `json:"action_ref"`
	Evaluation       Evaluation `json:"evaluation"`
	ReasonCodes      []string   `json:"reason_codes,omitempty"`
	GuardrailReasons []string   `json:"guardrail_reasons,omitempty"`
	PolicyRiskTier   RiskTier   `json:"policy_risk_tier,omitempty"`
	ApprovalRequired bool       `json:"approval_required"`
	NeedsHumanInput  bool       `json:"needs_human_input"`
	// LLMRiskLevel preserves the model's own risk estimate for reference.
	// It never influences the verdict.
	LLMRiskLevel string `json:"llm_risk_level,omitempty"`
}

// Gate applies the deterministic, ordered policy checks to proposed actions.
type Gate struct {
	policy     *TenantPolicy
	guardrails *GuardrailEngine
}

// NewGate creates a gate for the tenant. guardrails may be nil, in which case
// the guardrail layer is skipped.
func NewGate(pol *TenantPolicy, guardrails *GuardrailEngine) *Gate {
	return &Gate{policy: pol, guardrails: guardrails}
}

// EvaluateAction applies the fixed order: permission table, blocking
// unknowns, tenant guardrails, then the tier rule for the policy-configured
// risk tier. actionCount is the total number of actions in the enclosing
// proposal (guardrail input).
func (g *Gate) EvaluateAction(ctx context.Context, action decision.ActionProposal, actionCount int) (Result, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate_action")
	defer span.End()

	res := Result{
		ActionRef:    action.ActionRef,
		LLMRiskLevel: action.RiskLevel,
	}

	actionType := ActionType(action.ActionType)
	tier, known := TierFor(actionType)
	if !known || !g.policy.Permits(actionType) {
		res.Evaluation = Blocked
		res.ReasonCodes = []string{CodeUnknownActionType}
		span.SetAttributes(attribute.String("policy.evaluation", string(res.Evaluation)))
		return res, nil
	}
	res.PolicyRiskTier = tier

	if len(action.BlockingUnknowns) > 0 {
		res.Evaluation = Blocked
		res.ReasonCodes = []string{CodeBlockingUnknownsPresent}
		res.NeedsHumanInput = true
		span.SetAttributes(attribute.String("policy.evaluation", string(res.Evaluation)))
		return res, nil
	}

	if g.guardrails != nil {
		reasons, err := g.guardrails.Evaluate(ctx, map[string]interface{}{
			"action_type":  action.ActionType,
			"target":       map[string]interface{}{"entity_type": action.Target.EntityType, "entity_id": action.Target.EntityID},
			"parameters":   action.Parameters,
			"action_count": actionCount,
		})
		if err != nil {
			return Result{}, fmt.Errorf("guardrail evaluation for %s: %w", action.ActionRef, err)
		}
		if len(reasons) > 0 {
			res.Evaluation = Blocked
			res.ReasonCodes = []string{CodeGuardrailDenied}
			res.GuardrailReasons = reasons
			span.SetAttributes(attribute.String("policy.evaluation", string(res.Evaluation)))
			return res, nil
		}
	}

	switch tier {
	case TierHigh, TierMedium:
		// Always requires human approval, regardless of confidence or the
		// model's own risk estimate.
		res.Evaluation = ApprovalRequired
		res.ApprovalRequired = true
		res.ReasonCodes = []string{CodeTierApprovalRequired}
	case TierLow:
		if action.Confidence >= g.policy.LowTierThreshold() {
			res.Evaluation = Allowed
		} else {
			res.Evaluation = Blocked
			res.ReasonCodes = []string{CodeConfidenceBelowThreshold}
		}
	case TierMinimal:
		if action.Confidence >= MinimalTierConfidence {
			res.Evaluation = Allowed
		} else {
			res.Evaluation = Blocked
			res.ReasonCodes = []string{CodeConfidenceBelowMinimum}
		}
	}

	span.SetAttributes(
		attribute.String("policy.evaluation", string(res.Evaluation)),
		attribute.String("policy.risk_tier", string(tier)),
	)
	return res, nil
}

// EvaluateProposal applies EvaluateAction to every action of the proposal.
// NO_ACTION_RECOMMENDED and BLOCKED_BY_UNKNOWNS proposals have nothing to
// gate and return an empty result set.
func (g *Gate) EvaluateProposal(ctx context.Context, prop *decision.Proposal) ([]Result, error) {
	if prop.DecisionType != decision.ProposeActions {
		return []Result{}, nil
	}
	results := make([]Result, 0, len(prop.Actions))
	for _, action := range prop.Actions {
		res, err := g.EvaluateAction(ctx, action, len(prop.Actions))
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
