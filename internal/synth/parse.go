package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNoJSONFound means the model reply contained no parseable JSON object,
// neither raw nor inside a markdown code fence.
var ErrNoJSONFound = errors.New("no JSON object found in model reply")

// ErrSchemaViolation means the reply parsed but failed structural validation.
// The cycle aborts; no partial proposal is ever stored.
var ErrSchemaViolation = errors.New("model reply violates proposal schema")

// replyBody is the wire shape the model is instructed to emit. Server-assigned
// fields (decision_id, action_ref, fingerprint) are absent here on purpose.
type replyBody struct {
	DecisionType     string        `json:"decision_type"`
	Actions          []replyAction `json:"actions"`
	BlockingUnknowns []string      `json:"blocking_unknowns"`
}

type replyAction struct {
	ActionType       string                 `json:"action_type"`
	Confidence       float64                `json:"confidence"`
	RiskLevel        string                 `json:"risk_level"`
	Target           replyTarget            `json:"target"`
	Parameters       map[string]interface{} `json:"parameters"`
	Why              []string               `json:"why"`
	BlockingUnknowns []string               `json:"blocking_unknowns"`
}

type replyTarget struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// replySchema enforces the cross-field proposal invariants at the schema
// level: PROPOSE_ACTIONS needs actions, NO_ACTION_RECOMMENDED forbids them,
// BLOCKED_BY_UNKNOWNS needs unknowns and forbids actions.
const replySchema = `{
	"type": "object",
	"required": ["decision_type"],
	"properties": {
		"decision_type": {"enum": ["PROPOSE_ACTIONS", "NO_ACTION_RECOMMENDED", "BLOCKED_BY_UNKNOWNS"]},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["action_type", "confidence", "target", "why"],
				"properties": {
					"action_type": {"type": "string", "minLength": 1},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"risk_level": {"type": "string"},
					"target": {
						"type": "object",
						"required": ["entity_type", "entity_id"],
						"properties": {
							"entity_type": {"type": "string", "minLength": 1},
							"entity_id": {"type": "string", "minLength": 1}
						}
					},
					"parameters": {"type": "object"},
					"why": {"type": "array", "items": {"type": "string"}, "minItems": 1},
					"blocking_unknowns": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"blocking_unknowns": {"type": "array", "items": {"type": "string"}}
	},
	"allOf": [
		{
			"if": {"properties": {"decision_type": {"const": "PROPOSE_ACTIONS"}}},
			"then": {"required": ["actions"], "properties": {"actions": {"minItems": 1}}}
		},
		{
			"if": {"properties": {"decision_type": {"const": "NO_ACTION_RECOMMENDED"}}},
			"then": {"properties": {"actions": {"maxItems": 0}}}
		},
		{
			"if": {"properties": {"decision_type": {"const": "BLOCKED_BY_UNKNOWNS"}}},
			"then": {
				"required": ["blocking_unknowns"],
				"properties": {
					"blocking_unknowns": {"minItems": 1},
					"actions": {"maxItems": 0}
				}
			}
		}
	]
}`

// parseReply defensively extracts and validates the proposal body from a raw
// model reply. Raw JSON is tried first, then a markdown-fenced block; anything
// else fails the cycle outright.
func parseReply(raw string) (*replyBody, error) {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(replySchema),
		gojsonschema.NewStringLoader(jsonText),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
	}

	var body replyBody
	if err := json.Unmarshal([]byte(jsonText), &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return &body, nil
}

// extractJSON returns the JSON object text from a model reply. Order of
// attempts: the whole trimmed reply, then the first fenced code block.
func extractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	if fenced, ok := extractFencedBlock(trimmed); ok {
		fenced = strings.TrimSpace(fenced)
		if json.Valid([]byte(fenced)) && strings.HasPrefix(fenced, "{") {
			return fenced, nil
		}
	}

	return "", ErrNoJSONFound
}

// extractFencedBlock pulls the contents of the first ``` fence, tolerating an
// optional language tag on the opening line.
func extractFencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || len(firstLine) <= 10 && !strings.Contains(firstLine, "{") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
