package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// PolicyYAML is a permissive tenant-1 policy fixture covering the low-risk
// action types used across package tests.
const PolicyYAML = `tenant_id: tenant-1
permitted_action_types:
  - CREATE_TASK
  - SEND_OUTREACH_EMAIL
min_confidence: 0.7
guardrails:
  blocked_entity_types: []
  max_actions_per_cycle: 5
version_tag: v1
`

// WritePolicyDir creates a temp policy directory holding the tenant-1 fixture
// and returns its path.
func WritePolicyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, TestTenantID+".yaml"), []byte(PolicyYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}
