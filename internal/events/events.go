// Package events defines the typed events the decision pipeline consumes and
// produces. Field names are part of the compatibility surface; changing a
// JSON tag is a breaking change for downstream consumers.
package events

import "time"

// Event type identifiers.
const (
	TypeRunDecision         = "RUN_DECISION"
	TypeRunDecisionDeferred = "RUN_DECISION_DEFERRED"
	TypeEvaluationRequested = "DECISION_EVALUATION_REQUESTED"
	TypeDecisionProposed    = "DECISION_PROPOSED"
	TypeActionApproved      = "ACTION_APPROVED"
	TypeActionRejected      = "ACTION_REJECTED"
)

// RunDecision is the inbound trigger asking the pipeline to consider an
// evaluation cycle for an account. Ephemeral; logged but never persisted.
type RunDecision struct {
	TenantID       string    `json:"tenant_id"`
	AccountID      string    `json:"account_id"`
	TriggerType    string    `json:"trigger_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	CorrelationID  string    `json:"correlation_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

// RunDecisionDeferred is emitted when admission is denied with a DEFER
// outcome; it carries the rescheduling coordinates for the single bounded
// retry.
type RunDecisionDeferred struct {
	TenantID               string `json:"tenant_id"`
	AccountID              string `json:"account_id"`
	TriggerType            string `json:"trigger_type"`
	IdempotencyKey         string `json:"idempotency_key"`
	CorrelationID          string `json:"correlation_id"`
	DeferUntilEpoch        int64  `json:"defer_until_epoch"`
	RetryAfterSeconds      int64  `json:"retry_after_seconds"`
	OriginalIdempotencyKey string `json:"original_idempotency_key"`
}

// EvaluationRequested is emitted exactly once per admitted cycle, after the
// admission lock is acquired.
type EvaluationRequested struct {
	AccountID      string `json:"account_id"`
	TenantID       string `json:"tenant_id"`
	TriggerType    string `json:"trigger_type"`
	TriggerEventID string `json:"trigger_event_id"`
}

// DecisionProposed is emitted after synthesis and policy gating, carrying the
// persisted proposal and its per-action policy evaluations.
type DecisionProposed struct {
	Decision          interface{} `json:"decision"`
	PolicyEvaluations interface{} `json:"policy_evaluations"`
}

// ActionApproved is emitted when an action proposal is approved and an
// action intent is created.
type ActionApproved struct {
	ActionIntentID string `json:"action_intent_id"`
	TenantID       string `json:"tenant_id"`
	AccountID      string `json:"account_id"`
	ApprovalSource string `json:"approval_source"`
	AutoExecuted   bool   `json:"auto_executed"`
}

// ActionRejected is emitted when an action proposal is rejected.
type ActionRejected struct {
	ActionRef       string `json:"action_ref"`
	DecisionID      string `json:"decision_id"`
	RejectedBy      string `json:"rejected_by"`
	RejectionReason string `json:"rejection_reason"`
}
