// Package agentpool manages long-lived, tenant-scoped compute agents.
// Entries are created lazily and cached so repeated requests for the same
// tenant key return the identical instance, preserving accumulated agent
// state across flow executions. Entries are never shared across tenant
// keys.
package agentpool

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// AgentFactory creates the opaque compute resource backing a pool entry.
// The pool is the only caller; everything else obtains agents through
// get-or-create.
type AgentFactory interface {
	NewAgent(tenant models.TenantKey, agentType string) (any, error)
}

// FactoryFunc adapts a function to the AgentFactory interface.
type FactoryFunc func(tenant models.TenantKey, agentType string) (any, error)

// NewAgent calls f.
func (f FactoryFunc) NewAgent(tenant models.TenantKey, agentType string) (any, error) {
	return f(tenant, agentType)
}

// Entry is one pooled agent. Callers never replace the Agent value, only
// mutate its internal state.
type Entry struct {
	Tenant    models.TenantKey
	AgentType string
	Agent     any
	CreatedAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
}

// Touch records a use of the entry.
func (e *Entry) Touch() {
	e.mu.Lock()
	e.lastUsed = time.Now()
	e.mu.Unlock()
}

// LastUsed returns when the entry was last touched.
func (e *Entry) LastUsed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

type poolKey struct {
	tenant    models.TenantKey
	agentType string
}

// Pool is the tenant-scoped agent pool.
type Pool struct {
	factory AgentFactory
	// agentTypes are the types created for each tenant on initialization.
	agentTypes []string

	mu      sync.RWMutex
	entries map[poolKey]*Entry
}

// New creates a Pool that initializes the given agent types per tenant.
func New(factory AgentFactory, agentTypes ...string) *Pool {
	return &Pool{
		factory:    factory,
		agentTypes: agentTypes,
		entries:    make(map[poolKey]*Entry),
	}
}

// InitializeTenantPool gets or creates the full set of agents for a tenant.
// Repeated calls with the same key return identity-equal entries; distinct
// keys never resolve to a shared instance.
func (p *Pool) InitializeTenantPool(tenant models.TenantKey) (map[string]*Entry, error) {
	agents := make(map[string]*Entry, len(p.agentTypes))
	for _, agentType := range p.agentTypes {
		entry, err := p.Get(tenant, agentType)
		if err != nil {
			return nil, err
		}
		agents[agentType] = entry
	}
	return agents, nil
}

// Get returns the pooled entry for (tenant, agentType), creating it on
// first request.
func (p *Pool) Get(tenant models.TenantKey, agentType string) (*Entry, error) {
	key := poolKey{tenant: tenant, agentType: agentType}

	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		entry.Touch()
		return entry, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check: another caller may have created it between locks.
	if entry, ok := p.entries[key]; ok {
		entry.Touch()
		return entry, nil
	}

	agent, err := p.factory.NewAgent(tenant, agentType)
	if err != nil {
		return nil, fmt.Errorf("create %s agent for %s: %w", agentType, tenant, err)
	}

	now := time.Now()
	entry = &Entry{
		Tenant:    tenant,
		AgentType: agentType,
		Agent:     agent,
		CreatedAt: now,
		lastUsed:  now,
	}
	p.entries[key] = entry
	log.Printf("[agentpool] created %s agent for tenant %s", agentType, tenant)
	return entry, nil
}

// CleanupIdlePools evicts every entry idle longer than maxIdle and returns
// the eviction count. A zero maxIdle evicts everything.
func (p *Pool) CleanupIdlePools(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for key, entry := range p.entries {
		if maxIdle <= 0 || entry.LastUsed().Before(cutoff) {
			p.closeEntry(entry)
			delete(p.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("[agentpool] evicted %d idle agents", evicted)
	}
	return evicted
}

// ReleaseAgents evicts all of one tenant's entries, returning the count.
// Used on flow deletion and tenant offboarding.
func (p *Pool) ReleaseAgents(tenant models.TenantKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	released := 0
	for key, entry := range p.entries {
		if key.tenant == tenant {
			p.closeEntry(entry)
			delete(p.entries, key)
			released++
		}
	}
	return released
}

// GetPoolStatistics returns the pooled instance count per tenant key.
func (p *Pool) GetPoolStatistics() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]int)
	for key := range p.entries {
		stats[key.tenant.String()]++
	}
	return stats
}

// Count returns the total number of pooled entries.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// closeEntry closes the agent if it supports closing. Called with p.mu held.
func (p *Pool) closeEntry(entry *Entry) {
	if closer, ok := entry.Agent.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("[agentpool] close %s agent for %s: %v", entry.AgentType, entry.Tenant, err)
		}
	}
}
