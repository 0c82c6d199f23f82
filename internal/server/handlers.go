package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantage-io/vantage/internal/decision"
	"github.com/vantage-io/vantage/internal/events"
	"github.com/vantage-io/vantage/internal/pipeline"
	"github.com/vantage-io/vantage/internal/proposal"
	"github.com/vantage-io/vantage/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{
			"pipeline":       "ok",
			"proposal_store": "ok",
		}
		if s.scheduler == nil {
			components["scheduler"] = "disabled"
		} else if pending, err := s.scheduler.Pending(r.Context()); err == nil {
			components["scheduler"] = "ok"
			resp["deferred_pending"] = pending
		} else {
			components["scheduler"] = "error"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

type evaluateRequest struct {
	AccountID      string `json:"account_id"`
	TriggerType    string `json:"trigger_type"`
	IdempotencyKey string `json:"idempotency_key"`
	// When the underlying signal occurred (RFC 3339). Defaults to now; a
	// signal younger than its type's debounce window is deferred, not run.
	ScheduledAt string `json:"scheduled_at"`
}

// handleEvaluateDecision runs one trigger through the pipeline synchronously.
// 202 with a polling handle when a cycle was admitted, 200 when nothing was
// triggered, 429 when the account's budget is exhausted.
func (s *Server) handleEvaluateDecision(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "account_id is required")
		return
	}
	if req.TriggerType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "trigger_type is required")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	scheduledAt := time.Now().UTC()
	if req.ScheduledAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "scheduled_at must be RFC 3339")
			return
		}
		scheduledAt = parsed.UTC()
	}

	trigger := events.RunDecision{
		TenantID:       requestctx.TenantID(r.Context()),
		AccountID:      req.AccountID,
		TriggerType:    req.TriggerType,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  requestctx.CorrelationID(r.Context()),
		ScheduledAt:    scheduledAt,
	}

	outcome, err := s.pipeline.Process(r.Context(), trigger)
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		log.Error().Err(err).Str("account_id", req.AccountID).Msg("evaluate_decision_failed")
		writeError(w, http.StatusInternalServerError, "internal", "decision evaluation failed")
		return
	}

	switch outcome.Status {
	case pipeline.StatusRequested:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":           string(outcome.Status),
			"decision_id":      outcome.DecisionID,
			"trigger_event_id": outcome.TriggerEventID,
			"poll":             "/v1/decisions/" + outcome.DecisionID,
		})
	case pipeline.StatusBudgetExhausted:
		w.Header().Set("Retry-After", "3600")
		writeError(w, http.StatusTooManyRequests, "budget_exceeded", outcome.Reason)
	default:
		// Duplicate, skipped, deferred, not-ready: nothing was triggered.
		resp := map[string]interface{}{
			"status": string(outcome.Status),
			"reason": outcome.Reason,
		}
		if outcome.DeferUntilEpoch > 0 {
			resp["defer_until_epoch"] = outcome.DeferUntilEpoch
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := chi.URLParam(r, "id")

	p, err := s.proposals.GetProposal(r.Context(), decisionID)
	if errors.Is(err, proposal.ErrProposalNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "decision not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if p.TenantID != requestctx.TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAccountDecisions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	tenantID := requestctx.TenantID(r.Context())

	list, err := s.proposals.ListByAccount(r.Context(), tenantID, accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if list == nil {
		list = []*decision.Proposal{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"decisions":  list,
	})
}

type approveRequest struct {
	ApprovedBy string                 `json:"approved_by"`
	Edits      map[string]interface{} `json:"edits"`
}

func (s *Server) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	actionRef := chi.URLParam(r, "ref")

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "approved_by is required")
		return
	}

	edits, err := decodeEdits(req.Edits)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_edit", err.Error())
		return
	}

	intent, err := s.workflow.Approve(r.Context(), requestctx.TenantID(r.Context()), actionRef, edits, req.ApprovedBy)
	if errors.Is(err, proposal.ErrActionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "action ref not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

type rejectRequest struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
}

func (s *Server) handleRejectAction(w http.ResponseWriter, r *http.Request) {
	actionRef := chi.URLParam(r, "ref")

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.RejectedBy == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "rejected_by is required")
		return
	}

	err := s.workflow.Reject(r.Context(), requestctx.TenantID(r.Context()), actionRef, req.RejectedBy, req.Reason)
	if errors.Is(err, proposal.ErrActionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "action ref not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "action_ref": actionRef})
}

// decodeEdits converts the raw edit payload into workflow edits, rejecting
// immutable field names before any decoding.
func decodeEdits(raw map[string]interface{}) (*proposal.Edits, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	if err := proposal.ValidateEditKeys(keys); err != nil {
		return nil, err
	}

	edits := &proposal.Edits{}
	if v, ok := raw["expires_at"]; ok {
		str, ok := v.(string)
		if !ok {
			return nil, errors.New("expires_at must be an RFC 3339 timestamp string")
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return nil, errors.New("expires_at must be an RFC 3339 timestamp string")
		}
		edits.ExpiresAt = &parsed
	}
	if v, ok := raw["parameters"]; ok {
		params, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.New("parameters must be an object")
		}
		edits.Parameters = params
	}
	return edits, nil
}
