// Package tenant validates incoming requests against the closed tenant set.
//
// Tenancy is fixed configuration, not data: a request for an unknown tenant
// is rejected outright rather than treated as an empty scope. The shared
// "public" corpus is a scope, never a tenant, and is rejected here.
package tenant

import (
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
	ID        string
	RateLimit int // requests per second; 0 means no limit
}

// Registry validates tenant IDs and enforces per-tenant rate limits.
type Registry struct {
	tenants  map[string]*Tenant
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewRegistry creates a registry over the given tenants. The "public" scope
// is never registered, whatever the caller passes.
func NewRegistry(tenants []Tenant) *Registry {
	r := &Registry{
		tenants:  make(map[string]*Tenant),
		limiters: make(map[string]*rate.Limiter),
	}
	for i := range tenants {
		t := &tenants[i]
		if t.ID == "" || t.ID == "public" {
			continue
		}
		r.tenants[t.ID] = t
		if t.RateLimit > 0 {
			r.limiters[t.ID] = rate.NewLimiter(rate.Limit(t.RateLimit), t.RateLimit*2) // burst = 2s worth
		}
	}
	return r
}

// FromIDs builds a registry with the given rate limit applied to every tenant.
func FromIDs(ids []string, rateLimit int) *Registry {
	tenants := make([]Tenant, 0, len(ids))
	for _, id := range ids {
		tenants = append(tenants, Tenant{ID: id, RateLimit: rateLimit})
	}
	return NewRegistry(tenants)
}

// Known reports whether the tenant is part of the configured set.
func (r *Registry) Known(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tenants[tenantID]
	return ok
}

// IDs returns the configured tenant IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	return ids
}

// ValidateRequest checks that the tenant exists and is within its rate
// limit. Returns a typed error on failure.
func (r *Registry) ValidateRequest(tenantID string) error {
	r.mu.RLock()
	_, ok := r.tenants[tenantID]
	lim := r.limiters[tenantID]
	r.mu.RUnlock()

	if !ok {
		return ErrTenantNotFound
	}
	if lim != nil && !lim.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}
