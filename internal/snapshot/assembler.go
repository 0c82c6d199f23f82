// Package snapshot assembles the bounded, deterministic context a synthesis
// cycle runs against.
package snapshot

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	vanotel "github.com/vantage-io/vantage/internal/otel"
	"github.com/vantage-io/vantage/internal/policy"
	"github.com/vantage-io/vantage/internal/posture"
)

var tracer = vanotel.Tracer("github.com/vantage-io/vantage/internal/snapshot")

// Bounds on the assembled context. A decision never sees more than this.
const (
	MaxActiveSignals = 50
	MaxGraphRefs     = 10
	MaxGraphDepth    = 2
)

// Lifecycle stages inferred for the snapshot, in fixed precedence order.
const (
	LifecycleCustomer = "customer"
	LifecycleEngaged  = "engaged"
	LifecycleProspect = "prospect"
)

// DecisionContext is the bounded snapshot handed to the synthesizer.
// Ephemeral; never persisted.
type DecisionContext struct {
	TenantID       string               `json:"tenant_id"`
	AccountID      string               `json:"account_id"`
	PostureState   string               `json:"posture_state"`
	Lifecycle      string               `json:"lifecycle"`
	ActiveSignals  []posture.Signal     `json:"active_signals"`
	RiskFactors    []string             `json:"risk_factors"`
	Opportunities  []string             `json:"opportunities"`
	Unknowns       []string             `json:"unknowns"`
	GraphRefs      []posture.GraphRef   `json:"graph_context_refs"`
	PolicyContext  *policy.TenantPolicy `json:"policy_context"`
	TraceID        string               `json:"trace_id"`
}

// Assembler builds decision contexts from the posture read model and tenant
// policy. Both inputs are mandatory: assembly fails hard when either is
// missing rather than defaulting silently.
type Assembler struct {
	postures  posture.Provider
	policyDir string
}

// NewAssembler creates an assembler over the posture provider and the tenant
// policy directory.
func NewAssembler(postures posture.Provider, policyDir string) *Assembler {
	return &Assembler{postures: postures, policyDir: policyDir}
}

// Assemble builds the snapshot for one account.
func (a *Assembler) Assemble(ctx context.Context, tenantID, accountID string) (*DecisionContext, error) {
	ctx, span := tracer.Start(ctx, "snapshot.assemble",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("account_id", accountID),
		))
	defer span.End()

	p, err := a.postures.GetPosture(ctx, tenantID, accountID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading posture for %s/%s: %w", tenantID, accountID, err)
	}

	pol, err := policy.LoadPolicy(a.policyDir, tenantID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading tenant policy for %s: %w", tenantID, err)
	}

	traceID, _ := vanotel.TraceContextFrom(ctx)

	dc := &DecisionContext{
		TenantID:      tenantID,
		AccountID:     accountID,
		PostureState:  p.State,
		Lifecycle:     inferLifecycle(p.ActiveSignals),
		ActiveSignals: boundSignals(p.ActiveSignals),
		RiskFactors:   p.RiskFactors,
		Opportunities: p.Opportunities,
		Unknowns:      p.Unknowns,
		GraphRefs:     boundGraphRefs(p.GraphRefs),
		PolicyContext: pol,
		TraceID:       traceID,
	}

	span.SetAttributes(
		attribute.Int("snapshot.signal_count", len(dc.ActiveSignals)),
		attribute.Int("snapshot.graph_ref_count", len(dc.GraphRefs)),
		attribute.String("snapshot.lifecycle", dc.Lifecycle),
	)
	return dc, nil
}

// inferLifecycle resolves the account's lifecycle stage in fixed precedence
// order: customer-stage signals first, then engagement signals, else prospect.
func inferLifecycle(signals []posture.Signal) string {
	for _, s := range signals {
		if s.Category == posture.CategoryCustomerStage {
			return LifecycleCustomer
		}
	}
	for _, s := range signals {
		if s.Category == posture.CategoryEngagement {
			return LifecycleEngaged
		}
	}
	return LifecycleProspect
}

// boundSignals returns the strongest signals up to the cap, newest first for
// equal strength, in a deterministic order.
func boundSignals(signals []posture.Signal) []posture.Signal {
	out := make([]posture.Signal, len(signals))
	copy(out, signals)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.After(out[j].ObservedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > MaxActiveSignals {
		out = out[:MaxActiveSignals]
	}
	return out
}

// boundGraphRefs drops refs beyond the traversal depth limit and caps the
// count, preserving deterministic order by node id.
func boundGraphRefs(refs []posture.GraphRef) []posture.GraphRef {
	var out []posture.GraphRef
	for _, ref := range refs {
		if ref.Depth <= MaxGraphDepth {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	if len(out) > MaxGraphRefs {
		out = out[:MaxGraphRefs]
	}
	return out
}
