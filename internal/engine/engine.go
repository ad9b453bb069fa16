// Package engine wires the flow engine together: registry, persistence,
// status synchronization, phase execution, reconciliation, and the tenant
// agent pool, behind one facade the CLI and embedders call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/flowline/flowline/internal/agentpool"
	"github.com/flowline/flowline/internal/cache"
	"github.com/flowline/flowline/internal/flow"
	"github.com/flowline/flowline/internal/lifecycle"
	"github.com/flowline/flowline/internal/reconcile"
	"github.com/flowline/flowline/internal/registry"
	"github.com/flowline/flowline/internal/state"
	"github.com/flowline/flowline/pkg/models"
)

// ErrUnknownFlowType indicates a flow type with no registered config.
var ErrUnknownFlowType = errors.New("unknown flow type")

// RequiredConfig contains the dependencies every Engine needs.
type RequiredConfig struct {
	// Store is the persistence layer. Required.
	Store state.Store
}

// Engine is the orchestration facade. One Engine serves all tenants; flow
// instances are isolated through their IDs and tenant keys.
type Engine struct {
	store      state.Store
	registry   *registry.Registry
	lifecycle  *lifecycle.Service
	reconciler *reconcile.Reconciler
	pool       *agentpool.Pool

	// handlers maps flow type to its phase handler table.
	mu       sync.RWMutex
	handlers map[string]flow.HandlerTable

	events        chan Event
	droppedEvents int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithAgentPool attaches a tenant-scoped agent pool. Agents for a flow's
// tenant are released when the flow is deleted.
func WithAgentPool(p *agentpool.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithRegistry uses a pre-populated flow type registry.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithLifecycleOptions forwards options to the status sync service.
func WithLifecycleOptions(opts ...lifecycle.Option) Option {
	return func(e *Engine) {
		e.lifecycle = lifecycle.NewService(e.store, e.store, cache.NewMemory(), opts...)
	}
}

// New creates an Engine over the given store.
func New(cfg RequiredConfig, opts ...Option) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}

	e := &Engine{
		store:    cfg.Store,
		registry: registry.New(),
		handlers: make(map[string]flow.HandlerTable),
		events:   make(chan Event, 100),
	}
	e.lifecycle = lifecycle.NewService(cfg.Store, cfg.Store, cache.NewMemory())
	e.reconciler = reconcile.New(cfg.Store)

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Registry returns the flow type registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Lifecycle returns the status synchronization service.
func (e *Engine) Lifecycle() *lifecycle.Service {
	return e.lifecycle
}

// Pool returns the agent pool, or nil if none is attached.
func (e *Engine) Pool() *agentpool.Pool {
	return e.pool
}

// RegisterFlowType registers a flow type config together with its phase
// handler table. Every phase must have a handler.
func (e *Engine) RegisterFlowType(cfg *models.FlowTypeConfig, handlers flow.HandlerTable) error {
	for _, p := range cfg.Phases {
		if _, ok := handlers[p.Name]; !ok {
			return fmt.Errorf("flow type %q phase %q: %w", cfg.Name, p.Name, flow.ErrMissingHandler)
		}
	}
	if err := e.registry.Register(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	e.handlers[cfg.Name] = handlers
	e.mu.Unlock()
	return nil
}

// RegisterVerifier binds a flow-type-specific state verifier used by
// reconciliation to confirm completed flows.
func (e *Engine) RegisterVerifier(flowType string, v reconcile.StateVerifier) {
	e.reconciler.RegisterVerifier(flowType, v)
}

// handlerTable returns the handler table for a flow type.
func (e *Engine) handlerTable(flowType string) (flow.HandlerTable, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	handlers, ok := e.handlers[flowType]
	if !ok {
		return nil, fmt.Errorf("%q: %w", flowType, ErrUnknownFlowType)
	}
	return handlers, nil
}

// CreateFlow creates a new flow instance for a tenant and runs it until it
// halts, fails, or completes. Returns the new flow ID.
func (e *Engine) CreateFlow(ctx context.Context, flowType string, tenant models.TenantKey, metadata map[string]any) (string, error) {
	cfg, err := e.registry.GetConfig(flowType)
	if err != nil {
		return "", err
	}
	handlers, err := e.handlerTable(flowType)
	if err != nil {
		return "", err
	}

	flowID := uuid.New().String()

	m := &models.MasterFlow{
		FlowID:   flowID,
		FlowType: flowType,
		Status:   models.MasterInitialized,
		Tenant:   tenant,
		Metadata: metadata,
	}
	c := &models.ChildFlow{
		FlowID:   flowID,
		FlowType: flowType,
		Status:   models.ChildActive,
	}
	if err := e.store.CreateFlow(m, c); err != nil {
		return "", fmt.Errorf("create flow: %w", err)
	}

	if _, err := e.lifecycle.StartFlow(ctx, flowID, flowType); err != nil {
		return "", fmt.Errorf("start flow %s: %w", flowID, err)
	}
	e.emit(Event{Type: EventFlowCreated, FlowID: flowID, FlowType: flowType, Tenant: tenant})

	if e.pool != nil {
		if _, err := e.pool.InitializeTenantPool(tenant); err != nil {
			log.Printf("[engine] %s: initialize agent pool for %s: %v", flowID, tenant, err)
		}
	}

	ctrl, err := flow.NewController(flowID, cfg, handlers, flow.WithSnapshotStore(e.store))
	if err != nil {
		return flowID, err
	}

	result, err := ctrl.StartFlowExecution()
	if err != nil {
		return flowID, err
	}
	return flowID, e.settle(ctx, flowID, flowType, tenant, ctrl, result)
}

// ResumeFlow resumes a halted flow at fromPhase with the given user input
// and runs it until it halts again, fails, or completes.
func (e *Engine) ResumeFlow(ctx context.Context, flowID, fromPhase string, userInput map[string]any) error {
	m, err := e.store.GetMasterFlow(flowID)
	if err != nil {
		return err
	}
	if m.Status == models.MasterDeleted {
		return fmt.Errorf("flow %s: %w", flowID, state.ErrFlowDeleted)
	}
	cfg, err := e.registry.GetConfig(m.FlowType)
	if err != nil {
		return err
	}
	handlers, err := e.handlerTable(m.FlowType)
	if err != nil {
		return err
	}

	ctrl, err := flow.Restore(flowID, cfg, handlers, e.store)
	if err != nil {
		return err
	}

	if _, err := e.lifecycle.ResumeFlow(ctx, flowID, m.FlowType); err != nil {
		return err
	}
	e.emit(Event{Type: EventFlowResumed, FlowID: flowID, FlowType: m.FlowType, Tenant: m.Tenant, Phase: fromPhase})

	result, err := ctrl.ResumeFlowExecution(fromPhase, userInput)
	if err != nil {
		return err
	}
	return e.settle(ctx, flowID, m.FlowType, m.Tenant, ctrl, result)
}

// AdvanceFlow continues a flow from its snapshotted current phase without
// user input. Used after a crash or restart to pick up where execution
// left off.
func (e *Engine) AdvanceFlow(ctx context.Context, flowID string) error {
	m, err := e.store.GetMasterFlow(flowID)
	if err != nil {
		return err
	}
	if m.Status == models.MasterDeleted {
		return fmt.Errorf("flow %s: %w", flowID, state.ErrFlowDeleted)
	}
	cfg, err := e.registry.GetConfig(m.FlowType)
	if err != nil {
		return err
	}
	handlers, err := e.handlerTable(m.FlowType)
	if err != nil {
		return err
	}

	ctrl, err := flow.Restore(flowID, cfg, handlers, e.store)
	if err != nil {
		return err
	}

	result, err := ctrl.ExecuteCurrentPhase()
	if err != nil {
		return err
	}
	return e.settle(ctx, flowID, m.FlowType, m.Tenant, ctrl, result)
}

// PauseFlow pauses a flow. The controller snapshot already persisted after
// the last transition is the resume point.
func (e *Engine) PauseFlow(ctx context.Context, flowID string) error {
	m, err := e.store.GetMasterFlow(flowID)
	if err != nil {
		return err
	}
	if _, err := e.lifecycle.PauseFlow(ctx, flowID, m.FlowType); err != nil {
		return err
	}
	e.emit(Event{Type: EventFlowPaused, FlowID: flowID, FlowType: m.FlowType, Tenant: m.Tenant})
	return nil
}

// DeleteFlow soft-deletes a flow and releases the tenant's pooled agents.
func (e *Engine) DeleteFlow(ctx context.Context, flowID string) error {
	m, err := e.store.GetMasterFlow(flowID)
	if err != nil {
		return err
	}
	if _, err := e.lifecycle.DeleteFlow(ctx, flowID, m.FlowType); err != nil {
		return err
	}
	if err := e.store.DeleteSnapshot(flowID); err != nil && !errors.Is(err, state.ErrNotFound) {
		log.Printf("[engine] %s: delete snapshot: %v", flowID, err)
	}
	if e.pool != nil {
		released := e.pool.ReleaseAgents(m.Tenant)
		if released > 0 {
			log.Printf("[engine] %s: released %d agents for tenant %s", flowID, released, m.Tenant)
		}
	}
	e.emit(Event{Type: EventFlowDeleted, FlowID: flowID, FlowType: m.FlowType, Tenant: m.Tenant})
	return nil
}

// FlowStatus is the combined view returned by GetFlowStatus.
type FlowStatus struct {
	FlowID       string              `json:"flow_id"`
	FlowType     string              `json:"flow_type"`
	Tenant       models.TenantKey    `json:"tenant"`
	MasterStatus models.MasterStatus `json:"master_status"`
	ChildStatus  models.ChildStatus  `json:"child_status"`
	Progress     flow.Status         `json:"progress"`
}

// GetFlowStatus returns the combined master/child status plus phase
// progress for one flow.
func (e *Engine) GetFlowStatus(ctx context.Context, flowID string) (*FlowStatus, error) {
	m, err := e.store.GetMasterFlow(flowID)
	if err != nil {
		return nil, err
	}
	snap, err := e.lifecycle.GetCombinedStatus(ctx, flowID, m.FlowType)
	if err != nil {
		return nil, err
	}

	status := &FlowStatus{
		FlowID:       flowID,
		FlowType:     m.FlowType,
		Tenant:       m.Tenant,
		MasterStatus: snap.MasterStatus,
		ChildStatus:  snap.ChildStatus,
	}

	cfg, err := e.registry.GetConfig(m.FlowType)
	if err != nil {
		return status, nil
	}
	handlers, err := e.handlerTable(m.FlowType)
	if err != nil {
		return status, nil
	}
	ctrl, err := flow.Restore(flowID, cfg, handlers, e.store)
	if err != nil {
		// No snapshot yet; status without progress is still useful.
		return status, nil
	}
	status.Progress = ctrl.GetFlowStatus()
	return status, nil
}

// ListFlows returns the non-deleted master flows for a tenant.
func (e *Engine) ListFlows(tenant models.TenantKey) ([]models.MasterFlow, error) {
	return e.store.ListMasterFlows(tenant)
}

// Reconcile re-derives one flow's master status from its child record.
func (e *Engine) Reconcile(ctx context.Context, flowID string) (*reconcile.Result, error) {
	result, err := e.reconciler.ReconcileMasterStatus(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		e.emit(Event{
			Type:    EventFlowReconciled,
			FlowID:  flowID,
			Message: fmt.Sprintf("master status %s -> %s", result.PreviousStatus, result.DerivedStatus),
		})
	}
	return result, nil
}

// MonitorHealth runs a tenant-wide health pass, reconciling drifted flows.
func (e *Engine) MonitorHealth(ctx context.Context, tenant models.TenantKey) (*reconcile.HealthReport, error) {
	return e.reconciler.MonitorFlowsHealth(ctx, tenant)
}

// settle maps a controller result onto persisted statuses and the child's
// phase record, then emits the matching event.
func (e *Engine) settle(ctx context.Context, flowID, flowType string, tenant models.TenantKey, ctrl *flow.Controller, result *models.PhaseExecutionResult) error {
	if err := e.store.UpdateChildPhases(flowID, flowType, ctrl.PhaseCompletion(), result.Data); err != nil {
		log.Printf("[engine] %s: update child phases: %v", flowID, err)
	}

	switch {
	case result.Status == models.PhaseStatusFailed:
		if _, err := e.lifecycle.FailFlow(ctx, flowID, flowType, result.Error); err != nil {
			return err
		}
		e.emit(Event{Type: EventFlowFailed, FlowID: flowID, FlowType: flowType, Tenant: tenant, Phase: result.Phase, Message: result.Error})
		return nil

	case ctrl.Halted():
		if _, err := e.lifecycle.HoldForApproval(ctx, flowID, flowType); err != nil {
			return err
		}
		e.emit(Event{Type: EventFlowHalted, FlowID: flowID, FlowType: flowType, Tenant: tenant, Phase: ctrl.CurrentPhase()})
		return nil

	default:
		if _, err := e.lifecycle.CompleteFlow(ctx, flowID, flowType); err != nil {
			return err
		}
		e.emit(Event{Type: EventFlowCompleted, FlowID: flowID, FlowType: flowType, Tenant: tenant, Phase: result.Phase})
		return nil
	}
}
