package policy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	vanotel "github.com/vantage-io/vantage/internal/otel"
)

var tracer = vanotel.Tracer("github.com/vantage-io/vantage/internal/policy")

//go:embed rego/*.rego
var embeddedGuardrails embed.FS

const (
	guardrailsFile  = "rego/guardrails.rego"
	guardrailsQuery = "data.vantage.policy.guardrails.deny"
)

// GuardrailEngine evaluates tenant guardrail deny rules using embedded OPA.
// The tenant policy is serialized to JSON and loaded as OPA data at
// construction, so evaluation is deterministic for a fixed policy + input.
type GuardrailEngine struct {
	policy   *TenantPolicy
	prepared rego.PreparedEvalQuery
}

// NewGuardrailEngine creates a guardrail engine with the precompiled rego
// policy for the given tenant.
func NewGuardrailEngine(ctx context.Context, pol *TenantPolicy) (*GuardrailEngine, error) {
	ctx, span := tracer.Start(ctx, "policy.guardrails.new")
	defer span.End()

	content, err := embeddedGuardrails.ReadFile(guardrailsFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded guardrails: %w", err)
	}

	policyJSON, err := json.Marshal(pol)
	if err != nil {
		return nil, fmt.Errorf("converting tenant policy to OPA data: %w", err)
	}
	var policyData map[string]interface{}
	if err := json.Unmarshal(policyJSON, &policyData); err != nil {
		return nil, fmt.Errorf("decoding tenant policy data: %w", err)
	}

	store := inmem.NewFromObject(map[string]interface{}{"tenant_policy": policyData})
	prepared, err := rego.New(
		rego.Query(guardrailsQuery),
		rego.Module(guardrailsFile, string(content)),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("preparing guardrails rego: %w", err)
	}

	return &GuardrailEngine{policy: pol, prepared: prepared}, nil
}

// Evaluate runs the deny rules for one action and returns the deny reasons,
// empty when the action passes.
func (e *GuardrailEngine) Evaluate(ctx context.Context, input map[string]interface{}) ([]string, error) {
	ctx, span := tracer.Start(ctx, "policy.guardrails.evaluate")
	defer span.End()

	results, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("evaluating guardrails: %w", err)
	}

	var reasons []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range set {
				if msg, ok := item.(string); ok {
					reasons = append(reasons, msg)
				}
			}
		}
	}
	span.SetAttributes(attribute.Int("guardrails.deny_count", len(reasons)))
	return reasons, nil
}
