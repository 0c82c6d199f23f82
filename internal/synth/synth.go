// Package synth runs the generative synthesis cycle: prompt construction,
// model invocation, defensive reply parsing, fingerprinting, and stable
// server-side ID assignment.
package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantage-io/vantage/internal/decision"
	"github.com/vantage-io/vantage/internal/llm"
	vanotel "github.com/vantage-io/vantage/internal/otel"
	"github.com/vantage-io/vantage/internal/snapshot"
)

var tracer = vanotel.Tracer("synth")

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 2048
)

// Synthesizer produces decision proposals from bounded account snapshots.
type Synthesizer struct {
	provider llm.Provider
	model    string

	now func() time.Time
}

// NewSynthesizer creates a synthesizer backed by the given provider and model.
func NewSynthesizer(provider llm.Provider, model string) *Synthesizer {
	return &Synthesizer{
		provider: provider,
		model:    model,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Synthesizer) SetClock(now func() time.Time) {
	s.now = now
}

// Synthesize runs one synthesis cycle. Any parse or validation failure aborts
// the whole cycle; a partial proposal is never returned.
func (s *Synthesizer) Synthesize(ctx context.Context, dc *snapshot.DecisionContext) (*decision.Proposal, error) {
	ctx, span := tracer.Start(ctx, "synth.synthesize")
	defer span.End()

	prompt, err := BuildPrompt(dc)
	if err != nil {
		return nil, err
	}

	resp, err := s.provider.Generate(ctx, &llm.Request{
		Model:       s.model,
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating proposal: %w", err)
	}

	body, err := parseReply(resp.Content)
	if err != nil {
		log.Warn().
			Str("tenant_id", dc.TenantID).
			Str("account_id", dc.AccountID).
			Err(err).
			Msg("synthesis_reply_rejected")
		return nil, err
	}

	proposal := s.buildProposal(dc, body)
	proposal.EstimatedCost = s.provider.EstimateCost(s.model, resp.InputTokens, resp.OutputTokens)

	if err := proposal.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	log.Info().
		Str("tenant_id", dc.TenantID).
		Str("account_id", dc.AccountID).
		Str("decision_id", proposal.DecisionID).
		Str("decision_type", string(proposal.DecisionType)).
		Int("action_count", len(proposal.Actions)).
		Str("proposal_fingerprint", proposal.ProposalFingerprint).
		Msg("proposal_synthesized")

	return proposal, nil
}

// buildProposal converts a validated reply body into an immutable proposal:
// fingerprint over the normalized body, a fresh decision_id (an identity, not
// a content hash), and content-derived action refs assigned after sorting
// actions by (action_type, target) so emission order never matters.
func (s *Synthesizer) buildProposal(dc *snapshot.DecisionContext, body *replyBody) *decision.Proposal {
	fingerprint := Fingerprint(body)
	decisionID := uuid.New().String()

	actions := make([]decision.ActionProposal, 0, len(body.Actions))
	for _, a := range body.Actions {
		actions = append(actions, decision.ActionProposal{
			ActionType:       a.ActionType,
			Confidence:       a.Confidence,
			RiskLevel:        a.RiskLevel,
			Target:           decision.Target{EntityType: a.Target.EntityType, EntityID: a.Target.EntityID},
			Parameters:       a.Parameters,
			Why:              a.Why,
			BlockingUnknowns: a.BlockingUnknowns,
		})
	}
	sort.Slice(actions, func(i, j int) bool {
		ai, aj := actions[i], actions[j]
		if ai.ActionType != aj.ActionType {
			return ai.ActionType < aj.ActionType
		}
		if ai.Target.EntityType != aj.Target.EntityType {
			return ai.Target.EntityType < aj.Target.EntityType
		}
		return ai.Target.EntityID < aj.Target.EntityID
	})
	for i := range actions {
		actions[i].ActionRef = actionRef(decisionID, &actions[i])
	}

	return &decision.Proposal{
		DecisionID:          decisionID,
		TenantID:            dc.TenantID,
		AccountID:           dc.AccountID,
		DecisionType:        decision.DecisionType(body.DecisionType),
		Actions:             actions,
		BlockingUnknowns:    body.BlockingUnknowns,
		ProposalFingerprint: fingerprint,
		CreatedAt:           s.now().UTC(),
	}
}

// actionRef derives the stable, server-assigned reference for one action.
func actionRef(decisionID string, a *decision.ActionProposal) string {
	why0 := ""
	if len(a.Why) > 0 {
		why0 = a.Why[0]
	}
	h := sha256.New()
	for _, part := range []string{decisionID, a.ActionType, a.Target.EntityType, a.Target.EntityID, why0} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "act_" + hex.EncodeToString(h.Sum(nil))[:24]
}
