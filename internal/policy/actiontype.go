// Package policy re-validates proposed actions deterministically: a fixed
// evaluation order over a closed action-type enum, a static risk-tier
// mapping, tenant guardrail rules, and confidence thresholds. The same input
// always yields the same output, so every decision is auditable and
// reproducible even though the step that produced the actions is not.
package policy

// ActionType is the closed set of actions the platform can propose. The
// policy gate blocks anything outside this enum.
type ActionType string

const (
	ActionSendOutreachEmail ActionType = "SEND_OUTREACH_EMAIL"
	ActionScheduleCheckIn   ActionType = "SCHEDULE_CHECK_IN"
	ActionCreateTask        ActionType = "CREATE_TASK"
	ActionUpdateCRMField    ActionType = "UPDATE_CRM_FIELD"
	ActionEscalateToOwner   ActionType = "ESCALATE_TO_OWNER"
	ActionFlagForReview     ActionType = "FLAG_FOR_REVIEW"
)

// RiskTier is the policy-configured risk classification of an action type.
// It is never the generative model's self-reported risk level.
type RiskTier string

const (
	TierHigh    RiskTier = "HIGH"
	TierMedium  RiskTier = "MEDIUM"
	TierLow     RiskTier = "LOW"
	TierMinimal RiskTier = "MINIMAL"
)

// AllActionTypes lists the closed enum, in a fixed order.
var AllActionTypes = []ActionType{
	ActionSendOutreachEmail,
	ActionScheduleCheckIn,
	ActionCreateTask,
	ActionUpdateCRMField,
	ActionEscalateToOwner,
	ActionFlagForReview,
}

// TierFor returns the static risk tier for an action type. The switch is
// exhaustive over the enum; an unknown type returns ok=false and is blocked
// upstream as UNKNOWN_ACTION_TYPE.
func TierFor(t ActionType) (RiskTier, bool) {
	switch t {
	case ActionSendOutreachEmail:
		return TierMedium, true
	case ActionScheduleCheckIn:
		return TierLow, true
	case ActionCreateTask:
		return TierMinimal, true
	case ActionUpdateCRMField:
		return TierMedium, true
	case ActionEscalateToOwner:
		return TierHigh, true
	case ActionFlagForReview:
		return TierMinimal, true
	}
	return "", false
}
