package synth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-io/vantage/internal/decision"
	"github.com/vantage-io/vantage/internal/llm"
	"github.com/vantage-io/vantage/internal/policy"
	"github.com/vantage-io/vantage/internal/snapshot"
)

// mockProvider returns a canned reply without network calls.
type mockProvider struct {
	reply string
	err   error

	lastRequest *llm.Request
}

func (m *mockProvider) Name() string { return "mock" }
func (m *mockProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{
		Content:      m.reply,
		FinishReason: "stop",
		InputTokens:  100,
		OutputTokens: 50,
		Model:        req.Model,
	}, nil
}
func (m *mockProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return 0.0042
}

func testContext() *snapshot.DecisionContext {
	return &snapshot.DecisionContext{
		TenantID:     "tenant-1",
		AccountID:    "acct-1",
		PostureState: "healthy",
		Lifecycle:    snapshot.LifecycleCustomer,
		PolicyContext: &policy.TenantPolicy{
			TenantID:             "tenant-1",
			PermittedActionTypes: []string{"CREATE_TASK", "SEND_OUTREACH_EMAIL"},
			MinConfidence:        0.7,
		},
	}
}

const twoActionReply = `{
	"decision_type": "PROPOSE_ACTIONS",
	"actions": [
		{
			"action_type": "SEND_OUTREACH_EMAIL",
			"confidence": 0.75,
			"risk_level": "MEDIUM",
			"target": {"entity_type": "contact", "entity_id": "c-9"},
			"why": ["champion went quiet"]
		},
		{
			"action_type": "CREATE_TASK",
			"confidence": 0.9,
			"risk_level": "LOW",
			"target": {"entity_type": "account", "entity_id": "acct-1"},
			"why": ["renewal window opens in 30 days"]
		}
	]
}`

func TestSynthesize_HappyPath(t *testing.T) {
	provider := &mockProvider{reply: twoActionReply}
	s := NewSynthesizer(provider, "gpt-4o")
	s.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	p, err := s.Synthesize(context.Background(), testContext())
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", p.TenantID)
	assert.Equal(t, "acct-1", p.AccountID)
	assert.Equal(t, decision.ProposeActions, p.DecisionType)
	assert.NotEmpty(t, p.DecisionID)
	assert.NotEmpty(t, p.ProposalFingerprint)
	assert.Equal(t, 0.0042, p.EstimatedCost)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), p.CreatedAt)

	// Actions come out sorted by (action_type, target), not emission order.
	require.Len(t, p.Actions, 2)
	assert.Equal(t, "CREATE_TASK", p.Actions[0].ActionType)
	assert.Equal(t, "SEND_OUTREACH_EMAIL", p.Actions[1].ActionType)
	for _, a := range p.Actions {
		assert.NotEmpty(t, a.ActionRef)
	}
	assert.NotEqual(t, p.Actions[0].ActionRef, p.Actions[1].ActionRef)
}

func TestSynthesize_PromptCarriesSnapshot(t *testing.T) {
	provider := &mockProvider{reply: `{"decision_type": "NO_ACTION_RECOMMENDED"}`}
	s := NewSynthesizer(provider, "gpt-4o")

	_, err := s.Synthesize(context.Background(), testContext())
	require.NoError(t, err)

	require.NotNil(t, provider.lastRequest)
	assert.Equal(t, "gpt-4o", provider.lastRequest.Model)
	assert.Contains(t, provider.lastRequest.Prompt, "acct-1")
	assert.Contains(t, provider.lastRequest.Prompt, "tenant-1")
	assert.Contains(t, provider.lastRequest.System, "decision_type")
}

func TestSynthesize_ActionRefStableAcrossEmissionOrder(t *testing.T) {
	body := &replyBody{DecisionType: "PROPOSE_ACTIONS", Actions: []replyAction{
		{ActionType: "CREATE_TASK", Confidence: 0.9,
			Target: replyTarget{EntityType: "account", EntityID: "acct-1"},
			Why:    []string{"renewal window"}},
		{ActionType: "SEND_OUTREACH_EMAIL", Confidence: 0.75,
			Target: replyTarget{EntityType: "contact", EntityID: "c-9"},
			Why:    []string{"champion went quiet"}},
	}}
	reversed := &replyBody{DecisionType: "PROPOSE_ACTIONS", Actions: []replyAction{body.Actions[1], body.Actions[0]}}

	s := NewSynthesizer(&mockProvider{}, "gpt-4o")
	p1 := s.buildProposal(testContext(), body)
	p2 := s.buildProposal(testContext(), reversed)

	// decision_id differs per cycle, but given the same decision_id the refs
	// must not depend on emission order.
	require.Len(t, p1.Actions, 2)
	require.Len(t, p2.Actions, 2)
	assert.Equal(t, p1.Actions[0].ActionType, p2.Actions[0].ActionType)
	assert.Equal(t, actionRef(p1.DecisionID, &p1.Actions[0]), actionRef(p1.DecisionID, &p2.Actions[0]))
	assert.Equal(t, p1.ProposalFingerprint, p2.ProposalFingerprint)
	assert.NotEqual(t, p1.DecisionID, p2.DecisionID)
}

func TestSynthesize_GarbageReply_AbortsCycle(t *testing.T) {
	provider := &mockProvider{reply: "I think you should email the customer."}
	s := NewSynthesizer(provider, "gpt-4o")

	p, err := s.Synthesize(context.Background(), testContext())
	assert.Nil(t, p, "no partial proposal on parse failure")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoJSONFound)
}

func TestSynthesize_ProviderError_Propagates(t *testing.T) {
	provErr := &llm.ProviderError{Provider: "mock", Kind: llm.KindRateLimit, Err: errors.New("slow down")}
	s := NewSynthesizer(&mockProvider{err: provErr}, "gpt-4o")

	p, err := s.Synthesize(context.Background(), testContext())
	assert.Nil(t, p)
	require.Error(t, err)
	assert.Equal(t, llm.KindRateLimit, llm.KindOf(err))
}
