// Package tenant provides multi-tenant request validation: tenant lookup and
// per-tenant request rate limiting. Account-level decision budgets are the
// budget ledger's job, not this package's.
package tenant

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Tenant holds per-tenant request configuration.
type Tenant struct {
	ID          string
	DisplayName string
	RateLimit   int // requests per second; 0 means no limit
}

// Manager validates incoming requests per tenant.
type Manager struct {
	mu       sync.RWMutex
	tenants  map[string]*Tenant
	limiters map[string]*rate.Limiter
}

// NewManager creates a manager over the given tenants.
func NewManager(tenants []Tenant) *Manager {
	m := &Manager{
		tenants:  make(map[string]*Tenant),
		limiters: make(map[string]*rate.Limiter),
	}
	for i := range tenants {
		t := &tenants[i]
		m.tenants[t.ID] = t
		if t.RateLimit > 0 {
			m.limiters[t.ID] = rate.NewLimiter(rate.Limit(t.RateLimit), t.RateLimit*2) // burst = 2s worth
		}
	}
	return m
}

// ValidateRequest checks that the tenant exists and is within its rate limit.
func (m *Manager) ValidateRequest(_ context.Context, tenantID string) error {
	m.mu.RLock()
	_, ok := m.tenants[tenantID]
	lim := m.limiters[tenantID]
	m.mu.RUnlock()
	if !ok {
		return ErrTenantNotFound
	}
	if lim != nil && !lim.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

// Known reports whether the tenant is registered.
func (m *Manager) Known(tenantID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tenants[tenantID]
	return ok
}
