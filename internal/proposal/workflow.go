package proposal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantage-io/vantage/internal/decision"
	"github.com/vantage-io/vantage/internal/events"
)

// DefaultIntentTTL is how long an approved intent stays executable unless the
// approver edits the expiry.
const DefaultIntentTTL = 7 * 24 * time.Hour

// ErrImmutableField means an approval or edit tried to change a field that is
// copied verbatim from the stored proposal.
var ErrImmutableField = errors.New("attempted edit of immutable field")

// immutableFields may never be edited; they always come from the stored
// proposal or the original intent.
var immutableFields = map[string]bool{
	"action_type": true,
	"target":      true,
	"entity_type": true,
	"entity_id":   true,
}

// Edits are approver-supplied overrides for editable intent fields.
type Edits struct {
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ValidateEditKeys rejects raw edit payloads naming immutable fields. Used by
// the request surface before edits are decoded into Edits.
func ValidateEditKeys(keys []string) error {
	for _, k := range keys {
		if immutableFields[k] {
			return fmt.Errorf("%w: %s", ErrImmutableField, k)
		}
	}
	return nil
}

// Workflow runs the server-authoritative approval path.
type Workflow struct {
	store   *Store
	emitter events.Emitter

	now func() time.Time
}

// NewWorkflow creates a workflow over the given store and event emitter.
func NewWorkflow(store *Store, emitter events.Emitter) *Workflow {
	return &Workflow{
		store:   store,
		emitter: emitter,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (w *Workflow) SetClock(now func() time.Time) {
	w.now = now
}

// Approve creates an action intent from a stored proposal action. The action
// is always re-loaded from the store by ref; action_type and target are copied
// from it and cannot be edited. Returns ErrActionNotFound if no stored
// proposal owns the ref, or if the owning proposal belongs to another tenant —
// refs must not leak existence across tenants.
func (w *Workflow) Approve(ctx context.Context, tenantID, actionRef string, edits *Edits, approver string) (*decision.ActionIntent, error) {
	p, err := w.store.GetByActionRef(ctx, actionRef)
	if err != nil {
		return nil, err
	}
	if p.TenantID != tenantID {
		return nil, ErrActionNotFound
	}
	action, ok := p.FindAction(actionRef)
	if !ok {
		return nil, ErrActionNotFound
	}

	now := w.now().UTC()
	expiresAt := now.Add(DefaultIntentTTL)
	var edited []string
	params := action.Parameters
	if edits != nil {
		if edits.ExpiresAt != nil {
			expiresAt = edits.ExpiresAt.UTC()
			edited = append(edited, "expires_at")
		}
		if edits.Parameters != nil {
			params = edits.Parameters
			edited = append(edited, "parameters")
		}
	}

	intent := &decision.ActionIntent{
		ActionIntentID:     "int_" + uuid.New().String()[:12],
		ActionType:         action.ActionType,
		Target:             action.Target,
		Parameters:         params,
		ApprovedBy:         approver,
		ApprovalTimestamp:  now,
		ExpiresAt:          expiresAt,
		ExpiresAtEpoch:     expiresAt.Unix(),
		OriginalDecisionID: p.DecisionID,
		OriginalProposalID: p.DecisionID,
		EditedFields:       edited,
	}

	if err := w.store.SaveIntent(ctx, p.TenantID, p.AccountID, intent, actionRef, now); err != nil {
		return nil, err
	}

	if err := w.emitter.Emit(ctx, events.TypeActionApproved, events.ActionApproved{
		ActionIntentID: intent.ActionIntentID,
		TenantID:       p.TenantID,
		AccountID:      p.AccountID,
		ApprovalSource: "human",
		AutoExecuted:   false,
	}); err != nil {
		log.Warn().Err(err).Str("action_intent_id", intent.ActionIntentID).Msg("approval_event_emit_failed")
	}

	log.Info().
		Str("tenant_id", p.TenantID).
		Str("account_id", p.AccountID).
		Str("action_ref", actionRef).
		Str("action_intent_id", intent.ActionIntentID).
		Str("approved_by", approver).
		Msg("action_approved")

	return intent, nil
}

// Reject records a rejection for a stored proposal action. No intent is
// created. Returns ErrActionNotFound if no stored proposal owns the ref or
// the owning proposal belongs to another tenant.
func (w *Workflow) Reject(ctx context.Context, tenantID, actionRef, rejectedBy, reason string) error {
	p, err := w.store.GetByActionRef(ctx, actionRef)
	if err != nil {
		return err
	}
	if p.TenantID != tenantID {
		return ErrActionNotFound
	}
	if _, ok := p.FindAction(actionRef); !ok {
		return ErrActionNotFound
	}

	if err := w.store.SaveRejection(ctx, actionRef, p.DecisionID, rejectedBy, reason, w.now().UTC()); err != nil {
		return err
	}

	if err := w.emitter.Emit(ctx, events.TypeActionRejected, events.ActionRejected{
		ActionRef:       actionRef,
		DecisionID:      p.DecisionID,
		RejectedBy:      rejectedBy,
		RejectionReason: reason,
	}); err != nil {
		log.Warn().Err(err).Str("action_ref", actionRef).Msg("rejection_event_emit_failed")
	}

	log.Info().
		Str("tenant_id", p.TenantID).
		Str("action_ref", actionRef).
		Str("rejected_by", rejectedBy).
		Msg("action_rejected")

	return nil
}

// EditIntent never mutates an approved intent. It creates a successor that
// references the original through supersedes_action_intent_id, copying the
// immutable fields and applying the edits.
func (w *Workflow) EditIntent(ctx context.Context, actionIntentID string, edits *Edits, approver string) (*decision.ActionIntent, error) {
	original, tenantID, accountID, err := w.store.GetIntent(ctx, actionIntentID)
	if err != nil {
		return nil, err
	}

	now := w.now().UTC()
	successor := *original
	successor.ActionIntentID = "int_" + uuid.New().String()[:12]
	successor.ApprovedBy = approver
	successor.ApprovalTimestamp = now
	successor.SupersedesActionIntentID = original.ActionIntentID
	successor.EditedFields = nil

	if edits != nil {
		if edits.ExpiresAt != nil {
			expiresAt := edits.ExpiresAt.UTC()
			successor.ExpiresAt = expiresAt
			successor.ExpiresAtEpoch = expiresAt.Unix()
			successor.EditedFields = append(successor.EditedFields, "expires_at")
		}
		if edits.Parameters != nil {
			successor.Parameters = edits.Parameters
			successor.EditedFields = append(successor.EditedFields, "parameters")
		}
	}

	// The successor row reuses the original's action ref so the provenance
	// chain stays traversable from the proposal side.
	var actionRef string
	err = w.store.db.QueryRowContext(ctx,
		`SELECT action_ref FROM action_intents WHERE action_intent_id = ?`, actionIntentID,
	).Scan(&actionRef)
	if err != nil {
		return nil, fmt.Errorf("resolving intent action ref: %w", err)
	}

	if err := w.store.SaveIntent(ctx, tenantID, accountID, &successor, actionRef, now); err != nil {
		return nil, err
	}

	log.Info().
		Str("action_intent_id", successor.ActionIntentID).
		Str("supersedes", original.ActionIntentID).
		Strs("edited_fields", successor.EditedFields).
		Msg("action_intent_superseded")

	return &successor, nil
}
