package posture

import (
	"context"
	"sync"
)

// StaticProvider serves postures from memory. Used in tests and single-node
// deployments where the read model is pushed in rather than pulled.
type StaticProvider struct {
	mu       sync.RWMutex
	postures map[string]*Posture
	statuses map[string]MaterializationStatus
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		postures: make(map[string]*Posture),
		statuses: make(map[string]MaterializationStatus),
	}
}

func key(tenantID, accountID string) string { return tenantID + "/" + accountID }

// Put stores a posture and marks its materialization COMPLETED.
func (p *StaticProvider) Put(posture *Posture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(posture.TenantID, posture.AccountID)
	p.postures[k] = posture
	p.statuses[k] = StatusCompleted
}

// SetStatus overrides the materialization status for an account.
func (p *StaticProvider) SetStatus(tenantID, accountID string, status MaterializationStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[key(tenantID, accountID)] = status
}

// GetPosture implements Provider.
func (p *StaticProvider) GetPosture(_ context.Context, tenantID, accountID string) (*Posture, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	posture, ok := p.postures[key(tenantID, accountID)]
	if !ok {
		return nil, ErrPostureNotFound
	}
	return posture, nil
}

// MaterializationStatus implements Provider.
func (p *StaticProvider) MaterializationStatus(_ context.Context, tenantID, accountID string) (MaterializationStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.statuses[key(tenantID, accountID)]
	if !ok {
		return StatusAbsent, nil
	}
	return status, nil
}
