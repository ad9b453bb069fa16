package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowline/flowline/internal/agentpool"
	"github.com/flowline/flowline/pkg/models"
)

// Agent is a pooled, tenant-scoped completion agent. It accumulates
// context notes across calls so later phases of a flow can build on
// earlier ones without re-sending the full history.
type Agent struct {
	tenant    models.TenantKey
	agentType string
	client    *Client

	mu    sync.Mutex
	notes []string
}

// Tenant returns the tenant key the agent is scoped to.
func (a *Agent) Tenant() models.TenantKey {
	return a.tenant
}

// AgentType returns the agent's role name.
func (a *Agent) AgentType() string {
	return a.agentType
}

// Remember appends a note to the agent's accumulated context.
func (a *Agent) Remember(note string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notes = append(a.notes, note)
}

// Recall returns a copy of the accumulated notes.
func (a *Agent) Recall() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.notes))
	copy(out, a.notes)
	return out
}

// Complete runs a completion with the accumulated notes folded into the
// system prompt.
func (a *Agent) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	a.mu.Lock()
	for _, note := range a.notes {
		systemPrompt += "\n\nContext: " + note
	}
	a.mu.Unlock()

	return a.client.Complete(ctx, systemPrompt, userPrompt)
}

// Tracker exposes the underlying client's token tracker.
func (a *Agent) Tracker() *TokenTracker {
	return a.client.Tracker()
}

// Factory builds Agents for the pool, one client shared across all of them.
type Factory struct {
	client *Client
}

var _ agentpool.AgentFactory = (*Factory)(nil)

// NewFactory creates a Factory backed by the given client.
func NewFactory(client *Client) *Factory {
	return &Factory{client: client}
}

// NewAgent creates a fresh Agent for the tenant and role.
func (f *Factory) NewAgent(tenant models.TenantKey, agentType string) (any, error) {
	if f.client == nil {
		return nil, fmt.Errorf("llm factory has no client configured")
	}
	return &Agent{
		tenant:    tenant,
		agentType: agentType,
		client:    f.client,
	}, nil
}
