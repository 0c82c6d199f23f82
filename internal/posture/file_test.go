package posture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePostureFile(t *testing.T, dir, tenantID, accountID, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, tenantID), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tenantID, accountID+".yaml"), []byte(content), 0o644))
}

func TestFileProvider_GetPosture(t *testing.T) {
	dir := t.TempDir()
	writePostureFile(t, dir, "tenant-1", "acct-1", `
posture:
  state: active
  active_signals:
    - id: sig-1
      category: customer_stage
      signal_type: renewal_window
      strength: 0.8
  risk_factors: [churn_risk]
  graph_refs:
    - node_id: n-1
      depth: 1
`)

	p := NewFileProvider(dir)
	posture, err := p.GetPosture(context.Background(), "tenant-1", "acct-1")
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", posture.TenantID)
	assert.Equal(t, "acct-1", posture.AccountID)
	assert.Equal(t, "active", posture.State)
	require.Len(t, posture.ActiveSignals, 1)
	assert.Equal(t, "renewal_window", posture.ActiveSignals[0].SignalType)
	assert.Equal(t, []string{"churn_risk"}, posture.RiskFactors)
	require.Len(t, posture.GraphRefs, 1)
	assert.Equal(t, "n-1", posture.GraphRefs[0].NodeID)
}

func TestFileProvider_MissingFileIsAbsent(t *testing.T) {
	p := NewFileProvider(t.TempDir())

	_, err := p.GetPosture(context.Background(), "tenant-1", "nope")
	assert.ErrorIs(t, err, ErrPostureNotFound)

	status, err := p.MaterializationStatus(context.Background(), "tenant-1", "nope")
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, status)
}

func TestFileProvider_ExplicitStatus(t *testing.T) {
	dir := t.TempDir()
	writePostureFile(t, dir, "tenant-1", "acct-1", `
materialization_status: IN_PROGRESS
posture:
  state: active
`)

	p := NewFileProvider(dir)
	status, err := p.MaterializationStatus(context.Background(), "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)
}

func TestFileProvider_DefaultStatusIsCompleted(t *testing.T) {
	dir := t.TempDir()
	writePostureFile(t, dir, "tenant-1", "acct-1", `
posture:
  state: active
`)

	p := NewFileProvider(dir)
	status, err := p.MaterializationStatus(context.Background(), "tenant-1", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestFileProvider_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writePostureFile(t, dir, "tenant-1", "acct-1", "posture: [not a mapping")

	p := NewFileProvider(dir)
	_, err := p.GetPosture(context.Background(), "tenant-1", "acct-1")
	assert.Error(t, err)
}
