package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint computes a content hash over the normalized proposal body.
// Normalization sorts every array and excludes non-deterministic fields
// (decision_id, action_ref, timestamps), so two bodies that differ only in
// array order hash identically. Used for duplicate and determinism checks,
// never as an identity.
func Fingerprint(body *replyBody) string {
	norm := normalizedBody{
		DecisionType:     body.DecisionType,
		BlockingUnknowns: sortedCopy(body.BlockingUnknowns),
	}
	for _, a := range body.Actions {
		norm.Actions = append(norm.Actions, normalizedAction{
			ActionType:       a.ActionType,
			Confidence:       a.Confidence,
			RiskLevel:        a.RiskLevel,
			EntityType:       a.Target.EntityType,
			EntityID:         a.Target.EntityID,
			Parameters:       a.Parameters,
			Why:              sortedCopy(a.Why),
			BlockingUnknowns: sortedCopy(a.BlockingUnknowns),
		})
	}
	sort.Slice(norm.Actions, func(i, j int) bool {
		ai, aj := norm.Actions[i], norm.Actions[j]
		if ai.ActionType != aj.ActionType {
			return ai.ActionType < aj.ActionType
		}
		if ai.EntityType != aj.EntityType {
			return ai.EntityType < aj.EntityType
		}
		return ai.EntityID < aj.EntityID
	})

	// json.Marshal emits map keys in sorted order, so the encoding is stable.
	encoded, _ := json.Marshal(norm)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

type normalizedBody struct {
	DecisionType     string             `json:"decision_type"`
	Actions          []normalizedAction `json:"actions,omitempty"`
	BlockingUnknowns []string           `json:"blocking_unknowns,omitempty"`
}

type normalizedAction struct {
	ActionType       string                 `json:"action_type"`
	Confidence       float64                `json:"confidence"`
	RiskLevel        string                 `json:"risk_level,omitempty"`
	EntityType       string                 `json:"entity_type"`
	EntityID         string                 `json:"entity_id"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	Why              []string               `json:"why"`
	BlockingUnknowns []string               `json:"blocking_unknowns,omitempty"`
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
