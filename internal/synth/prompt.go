package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vantage-io/vantage/internal/snapshot"
)

const systemPrompt = `You are an account-intelligence decision engine. Given a bounded
snapshot of an account's posture, decide whether actions should be proposed.

Reply with exactly one JSON object and nothing else. The object must have:
- "decision_type": one of "PROPOSE_ACTIONS", "NO_ACTION_RECOMMENDED", "BLOCKED_BY_UNKNOWNS"
- "actions": required and non-empty for PROPOSE_ACTIONS, omitted otherwise
- "blocking_unknowns": required and non-empty for BLOCKED_BY_UNKNOWNS

Each action must have: "action_type", "confidence" (0 to 1), "risk_level"
(LOW, MEDIUM, or HIGH), "target" with "entity_type" and "entity_id",
"parameters", and "why" (a non-empty list of short justifications).

Only propose action types permitted by the tenant policy in the snapshot.
If critical information is missing, use BLOCKED_BY_UNKNOWNS and name the
unknowns rather than guessing.`

// BuildPrompt renders the user prompt for one synthesis cycle. The snapshot
// is embedded as JSON so the same context always produces the same prompt.
func BuildPrompt(dc *snapshot.DecisionContext) (string, error) {
	ctxJSON, err := json.MarshalIndent(dc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding decision context: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate account %s for tenant %s.\n\n", dc.AccountID, dc.TenantID)
	b.WriteString("Account snapshot:\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nDecide and reply with the JSON object now.")
	return b.String(), nil
}
