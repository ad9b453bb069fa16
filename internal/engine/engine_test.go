package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/flowline/flowline/internal/agentpool"
	"github.com/flowline/flowline/internal/flow"
	"github.com/flowline/flowline/internal/state"
	"github.com/flowline/flowline/pkg/models"
)

var testTenant = models.TenantKey{ClientID: "acme", EngagementID: "audit-2026"}

func reviewConfig() *models.FlowTypeConfig {
	return &models.FlowTypeConfig{
		Name:    "document-review",
		Version: "1.0.0",
		Phases: []models.PhaseConfig{
			{Name: "intake", DisplayName: "Intake"},
			{Name: "approval", DisplayName: "Approval", Dependencies: []string{"intake"}, RequiresUserInput: true},
			{Name: "finalize", DisplayName: "Finalize", Dependencies: []string{"approval"}},
		},
	}
}

func reviewHandlers() flow.HandlerTable {
	return flow.HandlerTable{
		"intake": func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
			return &models.PhaseExecutionResult{
				Status:    models.PhaseStatusCompleted,
				NextPhase: "approval",
			}, nil
		},
		"approval": func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
			return &models.PhaseExecutionResult{
				Status:            models.PhaseStatusWaitingApproval,
				RequiresUserInput: true,
			}, nil
		},
		"finalize": func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
			return &models.PhaseExecutionResult{Status: models.PhaseStatusCompleted}, nil
		},
	}
}

func testEngine(t *testing.T, opts ...Option) (*Engine, *state.DB) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e, err := New(RequiredConfig{Store: db}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.RegisterFlowType(reviewConfig(), reviewHandlers()); err != nil {
		t.Fatalf("RegisterFlowType: %v", err)
	}
	return e, db
}

// drainEvents collects everything currently buffered on the event channel.
func drainEvents(e *Engine) []Event {
	var events []Event
	for {
		select {
		case ev := <-e.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestCreateFlowHaltsAtApproval(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	flowID, err := e.CreateFlow(ctx, "document-review", testTenant, map[string]any{"doc": "q2-report"})
	if err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}

	status, err := e.GetFlowStatus(ctx, flowID)
	if err != nil {
		t.Fatalf("GetFlowStatus: %v", err)
	}
	if status.MasterStatus != models.MasterPaused {
		t.Errorf("master = %s, want paused", status.MasterStatus)
	}
	if status.ChildStatus != models.ChildWaitingForApproval {
		t.Errorf("child = %s, want waiting_for_approval", status.ChildStatus)
	}
	if status.Progress.CurrentPhase != "approval" {
		t.Errorf("phase = %q, want approval", status.Progress.CurrentPhase)
	}
	if !status.Progress.ExecutionHalted {
		t.Error("execution should be halted")
	}

	c, err := db.GetChildFlow(flowID, "document-review")
	if err != nil {
		t.Fatalf("GetChildFlow: %v", err)
	}
	if !c.IsPhaseComplete("intake") {
		t.Error("intake should be recorded complete on the child record")
	}

	types := eventTypes(drainEvents(e))
	if len(types) != 2 || types[0] != EventFlowCreated || types[1] != EventFlowHalted {
		t.Errorf("events = %v, want [flow_created flow_halted]", types)
	}
}

func TestResumeApprovedCompletesFlow(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	flowID, err := e.CreateFlow(ctx, "document-review", testTenant, nil)
	if err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	drainEvents(e)

	if err := e.ResumeFlow(ctx, flowID, "approval", map[string]any{"approved": true}); err != nil {
		t.Fatalf("ResumeFlow: %v", err)
	}

	status, err := e.GetFlowStatus(ctx, flowID)
	if err != nil {
		t.Fatalf("GetFlowStatus: %v", err)
	}
	if status.MasterStatus != models.MasterCompleted {
		t.Errorf("master = %s, want completed", status.MasterStatus)
	}
	if status.ChildStatus != models.ChildCompleted {
		t.Errorf("child = %s, want completed", status.ChildStatus)
	}
	if status.Progress.ProgressPercentage != 100 {
		t.Errorf("progress = %.0f%%, want 100%%", status.Progress.ProgressPercentage)
	}

	c, _ := db.GetChildFlow(flowID, "document-review")
	for _, phase := range []string{"intake", "approval", "finalize"} {
		if !c.IsPhaseComplete(phase) {
			t.Errorf("phase %s should be complete", phase)
		}
	}

	types := eventTypes(drainEvents(e))
	if len(types) != 2 || types[0] != EventFlowResumed || types[1] != EventFlowCompleted {
		t.Errorf("events = %v, want [flow_resumed flow_completed]", types)
	}
}

func TestFailedHandlerFailsFlow(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	handlers := reviewHandlers()
	handlers["intake"] = func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error) {
		return nil, fmt.Errorf("intake storage offline")
	}
	failing := reviewConfig()
	failing.Name = "failing-review"
	if err := e.RegisterFlowType(failing, handlers); err != nil {
		t.Fatalf("RegisterFlowType: %v", err)
	}

	flowID, err := e.CreateFlow(ctx, "failing-review", testTenant, nil)
	if err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}

	m, err := db.GetMasterFlow(flowID)
	if err != nil {
		t.Fatalf("GetMasterFlow: %v", err)
	}
	if m.Status != models.MasterFailed {
		t.Errorf("master = %s, want failed", m.Status)
	}
	if m.Metadata["failure_reason"] != "intake storage offline" {
		t.Errorf("failure_reason = %v", m.Metadata["failure_reason"])
	}
}

func TestDeleteFlowIsSticky(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	flowID, err := e.CreateFlow(ctx, "document-review", testTenant, nil)
	if err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	if err := e.DeleteFlow(ctx, flowID); err != nil {
		t.Fatalf("DeleteFlow: %v", err)
	}

	err = e.ResumeFlow(ctx, flowID, "approval", map[string]any{"approved": true})
	if !errors.Is(err, state.ErrFlowDeleted) {
		t.Errorf("resume after delete = %v, want ErrFlowDeleted", err)
	}
}

func TestDeleteFlowReleasesTenantAgents(t *testing.T) {
	pool := agentpool.New(agentpool.FactoryFunc(func(tenant models.TenantKey, agentType string) (any, error) {
		return struct{}{}, nil
	}), "analyst")

	e, _ := testEngine(t, WithAgentPool(pool))
	ctx := context.Background()

	flowID, err := e.CreateFlow(ctx, "document-review", testTenant, nil)
	if err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	if pool.Count() != 1 {
		t.Fatalf("pool count = %d after create, want 1", pool.Count())
	}

	if err := e.DeleteFlow(ctx, flowID); err != nil {
		t.Fatalf("DeleteFlow: %v", err)
	}
	if pool.Count() != 0 {
		t.Errorf("pool count = %d after delete, want 0", pool.Count())
	}
}

func TestReconcileHealsDriftedFlow(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	flowID, err := e.CreateFlow(ctx, "document-review", testTenant, nil)
	if err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}

	// Simulate drift: the child moved on but the master write was lost.
	if err := db.UpdateChildStatus(flowID, "document-review", models.ChildFailed); err != nil {
		t.Fatalf("UpdateChildStatus: %v", err)
	}

	result, err := e.Reconcile(ctx, flowID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Changed || result.DerivedStatus != models.MasterFailed {
		t.Errorf("result = %+v, want change to failed", result)
	}
}

func TestMonitorHealth(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	if _, err := e.CreateFlow(ctx, "document-review", testTenant, nil); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}

	report, err := e.MonitorHealth(ctx, testTenant)
	if err != nil {
		t.Fatalf("MonitorHealth: %v", err)
	}
	if report.TotalFlows != 1 {
		t.Errorf("total = %d, want 1", report.TotalFlows)
	}
	if len(report.Inconsistencies) != 0 {
		t.Errorf("inconsistencies = %v, want none", report.Inconsistencies)
	}
}

func TestCreateFlowUnknownType(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.CreateFlow(context.Background(), "ghost-type", testTenant, nil); err == nil {
		t.Error("expected error for unregistered flow type")
	}
}

func TestRegisterFlowTypeMissingHandler(t *testing.T) {
	e, _ := testEngine(t)

	cfg := reviewConfig()
	cfg.Name = "incomplete"
	handlers := reviewHandlers()
	delete(handlers, "finalize")

	if err := e.RegisterFlowType(cfg, handlers); !errors.Is(err, flow.ErrMissingHandler) {
		t.Errorf("err = %v, want ErrMissingHandler", err)
	}
}
