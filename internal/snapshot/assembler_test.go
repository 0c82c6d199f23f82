package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-io/vantage/internal/policy"
	"github.com/vantage-io/vantage/internal/posture"
)

const tenantPolicyYAML = `tenant_id: acme
permitted_action_types: [CREATE_TASK]
`

func writePolicy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(tenantPolicyYAML), 0o600))
	return dir
}

func basePosture() *posture.Posture {
	return &posture.Posture{
		TenantID:  "acme",
		AccountID: "acct-1",
		State:     "at_risk",
		ActiveSignals: []posture.Signal{
			{ID: "s1", Category: "usage", SignalType: "login_drop", Strength: 0.8},
		},
		RiskFactors:   []string{"champion departed"},
		Opportunities: []string{"expansion interest"},
		Unknowns:      []string{"renewal intent"},
	}
}

func TestAssemble_HappyPath(t *testing.T) {
	provider := posture.NewStaticProvider()
	provider.Put(basePosture())
	a := NewAssembler(provider, writePolicy(t))

	dc, err := a.Assemble(context.Background(), "acme", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "at_risk", dc.PostureState)
	assert.Equal(t, LifecycleProspect, dc.Lifecycle)
	assert.Len(t, dc.ActiveSignals, 1)
	require.NotNil(t, dc.PolicyContext)
	assert.True(t, dc.PolicyContext.Permits(policy.ActionCreateTask))
}

func TestAssemble_MissingPostureFailsHard(t *testing.T) {
	a := NewAssembler(posture.NewStaticProvider(), writePolicy(t))
	_, err := a.Assemble(context.Background(), "acme", "acct-missing")
	assert.ErrorIs(t, err, posture.ErrPostureNotFound)
}

func TestAssemble_MissingPolicyFailsHard(t *testing.T) {
	provider := posture.NewStaticProvider()
	provider.Put(basePosture())
	a := NewAssembler(provider, t.TempDir())

	_, err := a.Assemble(context.Background(), "acme", "acct-1")
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
}

func TestAssemble_SignalCap(t *testing.T) {
	p := basePosture()
	p.ActiveSignals = nil
	for i := 0; i < MaxActiveSignals+20; i++ {
		p.ActiveSignals = append(p.ActiveSignals, posture.Signal{
			ID:       fmt.Sprintf("s%03d", i),
			Category: "usage",
			Strength: float64(i) / 100,
		})
	}
	provider := posture.NewStaticProvider()
	provider.Put(p)
	a := NewAssembler(provider, writePolicy(t))

	dc, err := a.Assemble(context.Background(), "acme", "acct-1")
	require.NoError(t, err)
	assert.Len(t, dc.ActiveSignals, MaxActiveSignals)
	// Strongest signals survive the cap.
	assert.Equal(t, "s069", dc.ActiveSignals[0].ID)
}

func TestAssemble_GraphRefDepthAndCountBounds(t *testing.T) {
	p := basePosture()
	for i := 0; i < MaxGraphRefs+5; i++ {
		p.GraphRefs = append(p.GraphRefs, posture.GraphRef{NodeID: fmt.Sprintf("n%02d", i), Depth: 1})
	}
	p.GraphRefs = append(p.GraphRefs, posture.GraphRef{NodeID: "deep", Depth: 3})
	provider := posture.NewStaticProvider()
	provider.Put(p)
	a := NewAssembler(provider, writePolicy(t))

	dc, err := a.Assemble(context.Background(), "acme", "acct-1")
	require.NoError(t, err)
	assert.Len(t, dc.GraphRefs, MaxGraphRefs)
	for _, ref := range dc.GraphRefs {
		assert.LessOrEqual(t, ref.Depth, MaxGraphDepth)
		assert.NotEqual(t, "deep", ref.NodeID)
	}
}

func TestInferLifecycle_Precedence(t *testing.T) {
	now := time.Now()
	customer := posture.Signal{ID: "c", Category: posture.CategoryCustomerStage, ObservedAt: now}
	engaged := posture.Signal{ID: "e", Category: posture.CategoryEngagement, ObservedAt: now}
	other := posture.Signal{ID: "o", Category: "usage", ObservedAt: now}

	assert.Equal(t, LifecycleCustomer, inferLifecycle([]posture.Signal{other, engaged, customer}))
	assert.Equal(t, LifecycleEngaged, inferLifecycle([]posture.Signal{other, engaged}))
	assert.Equal(t, LifecycleProspect, inferLifecycle([]posture.Signal{other}))
	assert.Equal(t, LifecycleProspect, inferLifecycle(nil))
}
