package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrPolicyNotFound is returned when a tenant has no policy configuration.
// The pipeline treats this as a hard failure: a decision must never run
// against absent policy state.
var ErrPolicyNotFound = errors.New("tenant policy not found")

// DefaultMinConfidence is the LOW-tier confidence threshold used when the
// tenant does not configure one.
const DefaultMinConfidence = 0.75

// MinimalTierConfidence is the fixed MINIMAL-tier confidence floor.
const MinimalTierConfidence = 0.60

// Guardrails are tenant-level deny rules evaluated by the embedded rego
// engine in addition to the tier rules.
type Guardrails struct {
	BlockedEntityTypes []string `yaml:"blocked_entity_types" json:"blocked_entity_types"`
	MaxActionsPerCycle int      `yaml:"max_actions_per_cycle" json:"max_actions_per_cycle"`
}

// TenantPolicy is the per-tenant policy context: which action types the
// tenant permits, confidence thresholds, and guardrails. Loaded from YAML and
// schema-validated before use.
type TenantPolicy struct {
	TenantID             string     `yaml:"tenant_id" json:"tenant_id"`
	PermittedActionTypes []string   `yaml:"permitted_action_types" json:"permitted_action_types"`
	MinConfidence        float64    `yaml:"min_confidence" json:"min_confidence"`
	Guardrails           Guardrails `yaml:"guardrails" json:"guardrails"`
	VersionTag           string     `yaml:"version_tag" json:"version_tag"`
}

// Permits reports whether the tenant's permission table contains the action type.
func (p *TenantPolicy) Permits(t ActionType) bool {
	for _, name := range p.PermittedActionTypes {
		if name == string(t) {
			return true
		}
	}
	return false
}

// LowTierThreshold returns the configured LOW-tier confidence threshold.
func (p *TenantPolicy) LowTierThreshold() float64 {
	if p.MinConfidence > 0 {
		return p.MinConfidence
	}
	return DefaultMinConfidence
}

// tenantPolicySchema validates the structural shape of a tenant policy file.
const tenantPolicySchema = `{
	"type": "object",
	"required": ["tenant_id", "permitted_action_types"],
	"properties": {
		"tenant_id": {"type": "string", "minLength": 1},
		"permitted_action_types": {
			"type": "array",
			"items": {"type": "string"}
		},
		"min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"guardrails": {
			"type": "object",
			"properties": {
				"blocked_entity_types": {"type": "array", "items": {"type": "string"}},
				"max_actions_per_cycle": {"type": "integer", "minimum": 0}
			}
		},
		"version_tag": {"type": "string"}
	}
}`

// ParsePolicy parses and schema-validates tenant policy YAML.
func ParsePolicy(raw []byte) (*TenantPolicy, error) {
	// Convert to JSON first because gojsonschema operates on JSON.
	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(normalizeYAML(generic))
	if err != nil {
		return nil, fmt.Errorf("converting policy to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(tenantPolicySchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("validating policy schema: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("policy schema violations: %s", strings.Join(msgs, "; "))
	}

	var pol TenantPolicy
	if err := yaml.Unmarshal(raw, &pol); err != nil {
		return nil, fmt.Errorf("decoding policy: %w", err)
	}
	return &pol, nil
}

// LoadPolicy reads the tenant's policy file (<dir>/<tenant_id>.yaml).
func LoadPolicy(dir, tenantID string) (*TenantPolicy, error) {
	path := filepath.Join(dir, tenantID+".yaml")
	raw, err := os.ReadFile(path) // #nosec G304 -- path built from operator-config dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, tenantID)
		}
		return nil, fmt.Errorf("reading policy %s: %w", path, err)
	}
	pol, err := ParsePolicy(raw)
	if err != nil {
		return nil, err
	}
	if pol.TenantID != tenantID {
		return nil, fmt.Errorf("policy file %s declares tenant %q", path, pol.TenantID)
	}
	return pol, nil
}

// normalizeYAML converts yaml.v3 map[string]interface{} trees (which may hold
// map[interface{}]interface{} from older anchors) into JSON-marshalable form.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
