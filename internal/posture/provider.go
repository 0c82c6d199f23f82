// Package posture defines the contract to the externally produced account
// read model consumed by context assembly, and the materialization gate that
// decides whether synthesis may run at all.
package posture

import (
	"context"
	"errors"
	"time"
)

// MaterializationStatus is the upstream pipeline's status for the account's
// latest signal.
type MaterializationStatus string

const (
	StatusCompleted  MaterializationStatus = "COMPLETED"
	StatusInProgress MaterializationStatus = "IN_PROGRESS"
	StatusFailed     MaterializationStatus = "FAILED"
	StatusAbsent     MaterializationStatus = "ABSENT"
)

// ErrPostureNotFound is returned when no read model exists for the account.
// Context assembly treats this as a hard failure: a decision must never run
// against absent state.
var ErrPostureNotFound = errors.New("posture read model not found")

// Signal categories used for lifecycle inference.
const (
	CategoryCustomerStage = "customer_stage"
	CategoryEngagement    = "engagement"
)

// Signal is one active signal in the account's read model. The yaml tags
// mirror the json tags so the file provider reads the same field names the
// upstream pipeline emits.
type Signal struct {
	ID         string    `json:"id" yaml:"id"`
	Category   string    `json:"category" yaml:"category"`
	SignalType string    `json:"signal_type" yaml:"signal_type"`
	Strength   float64   `json:"strength" yaml:"strength"`
	ObservedAt time.Time `json:"observed_at" yaml:"observed_at"`
}

// GraphRef points at a knowledge-graph node reachable from the account.
type GraphRef struct {
	NodeID string `json:"node_id" yaml:"node_id"`
	Depth  int    `json:"depth" yaml:"depth"`
}

// Posture is the externally materialized read model for one account.
type Posture struct {
	TenantID      string     `json:"tenant_id" yaml:"tenant_id"`
	AccountID     string     `json:"account_id" yaml:"account_id"`
	State         string     `json:"state" yaml:"state"`
	ActiveSignals []Signal   `json:"active_signals" yaml:"active_signals"`
	RiskFactors   []string   `json:"risk_factors" yaml:"risk_factors"`
	Opportunities []string   `json:"opportunities" yaml:"opportunities"`
	Unknowns      []string   `json:"unknowns" yaml:"unknowns"`
	GraphRefs     []GraphRef `json:"graph_refs" yaml:"graph_refs"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Provider is the read-model collaborator. Both methods are network calls in
// production; the pipeline owns no posture state.
type Provider interface {
	// GetPosture returns the account's read model, or ErrPostureNotFound.
	GetPosture(ctx context.Context, tenantID, accountID string) (*Posture, error)
	// MaterializationStatus returns the status of the account's latest
	// signal materialization. StatusAbsent when nothing has been recorded.
	MaterializationStatus(ctx context.Context, tenantID, accountID string) (MaterializationStatus, error)
}

// GateResult is the outcome of the materialization gate.
type GateResult struct {
	Ready  bool
	Status MaterializationStatus
}

// CheckMaterialization applies the single authoritative pre-synthesis check:
// synthesis may run only when the status is exactly COMPLETED. Any other
// status (absent, in progress, failed) yields a non-error "not completed"
// result. Audit logs are never consulted for this decision.
func CheckMaterialization(ctx context.Context, p Provider, tenantID, accountID string) (GateResult, error) {
	status, err := p.MaterializationStatus(ctx, tenantID, accountID)
	if err != nil {
		return GateResult{}, err
	}
	return GateResult{Ready: status == StatusCompleted, Status: status}, nil
}
