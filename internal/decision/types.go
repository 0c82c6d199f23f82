// Package decision defines the proposal domain model shared by the
// synthesizer, the policy gate, and the proposal store.
package decision

import (
	"errors"
	"fmt"
	"time"
)

// DecisionType classifies a proposal.
type DecisionType string

const (
	ProposeActions      DecisionType = "PROPOSE_ACTIONS"
	NoActionRecommended DecisionType = "NO_ACTION_RECOMMENDED"
	BlockedByUnknowns   DecisionType = "BLOCKED_BY_UNKNOWNS"
)

// Target identifies the entity an action operates on.
type Target struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// ActionProposal is one proposed action within a decision proposal.
// ActionRef is server-assigned, stable, and content-derived; RiskLevel is the
// generative model's own estimate, advisory only — the policy gate uses the
// policy-configured tier instead.
type ActionProposal struct {
	ActionRef        string                 `json:"action_ref"`
	ActionType       string                 `json:"action_type"`
	Confidence       float64                `json:"confidence"`
	RiskLevel        string                 `json:"risk_level"`
	Target           Target                 `json:"target"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	Why              []string               `json:"why"`
	BlockingUnknowns []string               `json:"blocking_unknowns,omitempty"`
}

// Proposal is the immutable output of one synthesis cycle and the sole source
// of truth for the approval surface.
type Proposal struct {
	DecisionID          string           `json:"decision_id"`
	TenantID            string           `json:"tenant_id"`
	AccountID           string           `json:"account_id"`
	DecisionType        DecisionType     `json:"decision_type"`
	Actions             []ActionProposal `json:"actions"`
	BlockingUnknowns    []string         `json:"blocking_unknowns,omitempty"`
	ProposalFingerprint string           `json:"proposal_fingerprint"`
	EstimatedCost       float64          `json:"estimated_cost"`
	CreatedAt           time.Time        `json:"created_at"`
}

// ActionIntent is the approved, execution-ready record derived from one
// action. Editing never mutates an intent; a successor intent references the
// original via SupersedesActionIntentID, forming an append-only provenance
// chain.
type ActionIntent struct {
	ActionIntentID           string                 `json:"action_intent_id"`
	ActionType               string                 `json:"action_type"`
	Target                   Target                 `json:"target"`
	Parameters               map[string]interface{} `json:"parameters,omitempty"`
	ApprovedBy               string                 `json:"approved_by"`
	ApprovalTimestamp        time.Time              `json:"approval_timestamp"`
	ExpiresAt                time.Time              `json:"expires_at"`
	ExpiresAtEpoch           int64                  `json:"expires_at_epoch"`
	OriginalDecisionID       string                 `json:"original_decision_id"`
	OriginalProposalID       string                 `json:"original_proposal_id"`
	SupersedesActionIntentID string                 `json:"supersedes_action_intent_id,omitempty"`
	EditedFields             []string               `json:"edited_fields,omitempty"`
}

// Validation errors for the cross-field proposal invariants.
var (
	ErrProposeWithoutActions  = errors.New("PROPOSE_ACTIONS requires at least one action")
	ErrNoActionWithActions    = errors.New("NO_ACTION_RECOMMENDED must carry no actions")
	ErrBlockedWithoutUnknowns = errors.New("BLOCKED_BY_UNKNOWNS requires blocking unknowns and no actions")
	ErrUnknownDecisionType    = errors.New("unknown decision type")
)

// Validate enforces the cross-field invariants between decision type, actions,
// and blocking unknowns. It fails closed: any violation aborts the cycle.
func (p *Proposal) Validate() error {
	switch p.DecisionType {
	case ProposeActions:
		if len(p.Actions) == 0 {
			return ErrProposeWithoutActions
		}
	case NoActionRecommended:
		if len(p.Actions) != 0 {
			return ErrNoActionWithActions
		}
	case BlockedByUnknowns:
		if len(p.BlockingUnknowns) == 0 || len(p.Actions) != 0 {
			return ErrBlockedWithoutUnknowns
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDecisionType, p.DecisionType)
	}
	for i := range p.Actions {
		a := &p.Actions[i]
		if a.Confidence < 0 || a.Confidence > 1 {
			return fmt.Errorf("action %d: confidence %v outside [0,1]", i, a.Confidence)
		}
	}
	return nil
}

// FindAction locates an action by its server-assigned ref.
func (p *Proposal) FindAction(actionRef string) (*ActionProposal, bool) {
	for i := range p.Actions {
		if p.Actions[i].ActionRef == actionRef {
			return &p.Actions[i], true
		}
	}
	return nil, false
}
