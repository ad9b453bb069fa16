// Package reconcile re-derives master flow status from child status plus
// verified persisted state, self-healing drift left behind by crashes or
// missed events. Reconciliation is advisory: failures are reported, never
// fatal.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/flowline/flowline/pkg/models"
)

// Store is the persistence surface the reconciler reads and heals through.
type Store interface {
	GetMasterFlow(flowID string) (*models.MasterFlow, error)
	GetChildFlow(flowID, flowType string) (*models.ChildFlow, error)
	UpdateMasterStatus(flowID string, status models.MasterStatus) error
	ListMasterFlows(tenant models.TenantKey) ([]models.MasterFlow, error)
}

// StateVerifier checks that the persisted business state actually backs a
// child's "completed" claim (for example: an inventory-producing phase
// marked complete must have produced at least one derived record).
type StateVerifier interface {
	VerifyDBStateComplete(ctx context.Context, flowID string, child *models.ChildFlow) (bool, error)
}

// VerifierFunc adapts a function to the StateVerifier interface.
type VerifierFunc func(ctx context.Context, flowID string, child *models.ChildFlow) (bool, error)

// VerifyDBStateComplete calls f.
func (f VerifierFunc) VerifyDBStateComplete(ctx context.Context, flowID string, child *models.ChildFlow) (bool, error) {
	return f(ctx, flowID, child)
}

// Reconciler derives and corrects master status per flow.
type Reconciler struct {
	store Store

	mu        sync.RWMutex
	verifiers map[string]StateVerifier
}

// New creates a Reconciler over the given store.
func New(store Store) *Reconciler {
	return &Reconciler{
		store:     store,
		verifiers: make(map[string]StateVerifier),
	}
}

// RegisterVerifier binds a flow-type-specific state verifier.
func (r *Reconciler) RegisterVerifier(flowType string, v StateVerifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[flowType] = v
}

// Result reports one reconciliation outcome.
type Result struct {
	FlowID         string              `json:"flow_id"`
	PreviousStatus models.MasterStatus `json:"previous_status"`
	DerivedStatus  models.MasterStatus `json:"derived_status"`
	Changed        bool                `json:"changed"`
}

// ReconcileMasterStatus derives the expected master status from the child
// record and persists it only if it differs from the current one. A
// deleted master is never touched. A completed child is promoted to a
// completed master only when the flow type's verifier confirms the
// persisted state; otherwise the master is marked failed with a warning.
// Unverifiable data is never silently promoted to completed.
func (r *Reconciler) ReconcileMasterStatus(ctx context.Context, flowID string) (*Result, error) {
	m, err := r.store.GetMasterFlow(flowID)
	if err != nil {
		return nil, err
	}

	result := &Result{FlowID: flowID, PreviousStatus: m.Status, DerivedStatus: m.Status}

	// Sticky terminal state: reconciliation never overrides a delete.
	if m.Status == models.MasterDeleted {
		return result, nil
	}

	c, err := r.store.GetChildFlow(flowID, m.FlowType)
	if err != nil {
		return nil, err
	}

	derived, known := r.derive(ctx, flowID, m.FlowType, c)
	if !known {
		log.Printf("[reconcile] %s: unknown child status %q, leaving master %s unchanged", flowID, c.Status, m.Status)
		return result, nil
	}

	result.DerivedStatus = derived
	if derived == m.Status {
		return result, nil
	}

	if err := r.store.UpdateMasterStatus(flowID, derived); err != nil {
		return nil, fmt.Errorf("persist reconciled status: %w", err)
	}
	result.Changed = true
	log.Printf("[reconcile] %s: master status %s -> %s (child %s)", flowID, m.Status, derived, c.Status)
	return result, nil
}

// derive maps a child status to the expected master status. The second
// return is false for child statuses the reconciler does not interpret.
func (r *Reconciler) derive(ctx context.Context, flowID, flowType string, c *models.ChildFlow) (models.MasterStatus, bool) {
	switch c.Status {
	case models.ChildCompleted:
		if r.verifyComplete(ctx, flowID, flowType, c) {
			return models.MasterCompleted, true
		}
		log.Printf("[reconcile] %s: child reports completed but persisted state is unverified, deriving failed", flowID)
		return models.MasterFailed, true
	case models.ChildFailed:
		return models.MasterFailed, true
	case models.ChildActive, models.ChildProcessing:
		return models.MasterRunning, true
	case models.ChildPaused, models.ChildWaitingForApproval:
		return models.MasterPaused, true
	default:
		return "", false
	}
}

// verifyComplete runs the flow type's verifier. Missing verifier or any
// verifier error counts as not complete: fail-safe, never optimistic.
func (r *Reconciler) verifyComplete(ctx context.Context, flowID, flowType string, c *models.ChildFlow) bool {
	r.mu.RLock()
	v, ok := r.verifiers[flowType]
	r.mu.RUnlock()

	if !ok {
		log.Printf("[reconcile] %s: no state verifier for flow type %q", flowID, flowType)
		return false
	}

	complete, err := v.VerifyDBStateComplete(ctx, flowID, c)
	if err != nil {
		log.Printf("[reconcile] %s: state verification error: %v", flowID, err)
		return false
	}
	return complete
}
