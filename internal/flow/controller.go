// Package flow implements the phase controller: the state machine that
// drives one flow instance through its configured phase sequence, owning
// pause/resume semantics and per-phase results.
//
// A controller is single-owner: exactly one execution context drives a
// given flow at a time. Callers that may race (for example two transport
// requests targeting the same flow) must serialize through the same
// distributed lock used for status transitions.
package flow

import (
	"errors"
	"fmt"
	"log"

	"github.com/flowline/flowline/pkg/models"
)

// Controller errors.
var (
	// ErrUnknownPhase indicates a phase name outside the flow type's sequence.
	ErrUnknownPhase = errors.New("unknown phase")
	// ErrDependencyNotMet indicates a transition into a phase whose declared
	// dependencies are not complete.
	ErrDependencyNotMet = errors.New("phase dependencies not met")
	// ErrMissingHandler indicates a phase has no registered handler.
	ErrMissingHandler = errors.New("no handler registered for phase")
)

// Handler executes one phase. It receives the previous phase's result
// (nil for the first phase) and returns the phase's own result. Retry and
// timeout declared on PhaseConfig are applied by the invocation layer
// wrapping the handler, never by the controller.
type Handler func(previous *models.PhaseExecutionResult) (*models.PhaseExecutionResult, error)

// HandlerTable maps phase names to their handlers. It is built once at
// startup; there is no name-based reflective dispatch.
type HandlerTable map[string]Handler

// SnapshotStore persists serialized controller state between calls.
type SnapshotStore interface {
	SaveSnapshot(flowID, flowType string, snapshot []byte) error
	GetSnapshot(flowID string) ([]byte, error)
}

// Controller drives one flow instance through its phase sequence.
type Controller struct {
	flowID   string
	cfg      *models.FlowTypeConfig
	handlers HandlerTable
	graph    *DependencyGraph

	// snapshots persists controller state after every transition.
	// Optional; nil disables persistence.
	snapshots SnapshotStore

	currentPhase string
	halted       bool
	started      bool
	results      map[string]*models.PhaseExecutionResult
}

// Option configures a Controller.
type Option func(*Controller)

// WithSnapshotStore enables snapshot persistence.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(c *Controller) {
		c.snapshots = store
	}
}

// NewController creates a controller for one flow instance. Every phase in
// the config must have a handler in the table.
func NewController(flowID string, cfg *models.FlowTypeConfig, handlers HandlerTable, opts ...Option) (*Controller, error) {
	graph, err := BuildDependencyGraph(cfg.Phases)
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Phases {
		if _, ok := handlers[p.Name]; !ok {
			return nil, fmt.Errorf("phase %q: %w", p.Name, ErrMissingHandler)
		}
	}

	c := &Controller{
		flowID:   flowID,
		cfg:      cfg,
		handlers: handlers,
		graph:    graph,
		results:  make(map[string]*models.PhaseExecutionResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StartFlowExecution begins execution at the first phase in the sequence.
func (c *Controller) StartFlowExecution() (*models.PhaseExecutionResult, error) {
	c.currentPhase = c.cfg.Phases[0].Name
	c.started = true
	c.halted = false
	return c.ExecuteCurrentPhase()
}

// ExecuteCurrentPhase runs phases starting at the current one, advancing
// through NextPhase links until the flow halts for user input, fails, or
// reaches its terminal phase. A handler failure is captured as a "failed"
// result and never auto-advances the flow.
func (c *Controller) ExecuteCurrentPhase() (*models.PhaseExecutionResult, error) {
	for {
		phaseCfg := c.cfg.Phase(c.currentPhase)
		if phaseCfg == nil {
			return nil, fmt.Errorf("phase %q: %w", c.currentPhase, ErrUnknownPhase)
		}

		completed := c.completedSet()
		if missing := c.graph.MissingDependencies(c.currentPhase, completed); len(missing) > 0 {
			return nil, fmt.Errorf("phase %q requires %v: %w", c.currentPhase, missing, ErrDependencyNotMet)
		}

		result := c.invoke(phaseCfg, c.previousResult())
		c.results[c.currentPhase] = result

		if result.Status == models.PhaseStatusFailed {
			c.persist()
			return result, nil
		}

		if result.RequiresUserInput {
			c.halted = true
			c.persist()
			return result, nil
		}

		if result.NextPhase != "" {
			if c.cfg.Phase(result.NextPhase) == nil {
				return nil, fmt.Errorf("phase %q advances to %q: %w", c.currentPhase, result.NextPhase, ErrUnknownPhase)
			}
			c.currentPhase = result.NextPhase
			c.persist()
			continue
		}

		// Terminal phase reached.
		c.halted = false
		c.persist()
		return result, nil
	}
}

// ResumeFlowExecution resumes a halted flow at fromPhase. If userInput is
// supplied it is stored as a synthesized result for fromPhase; when
// fromPhase is an approval phase and the input indicates approval,
// execution jumps directly past it instead of re-running it.
func (c *Controller) ResumeFlowExecution(fromPhase string, userInput map[string]any) (*models.PhaseExecutionResult, error) {
	phaseCfg := c.cfg.Phase(fromPhase)
	if phaseCfg == nil {
		return nil, fmt.Errorf("phase %q: %w", fromPhase, ErrUnknownPhase)
	}

	// Gate before synthesizing any result: the approval jump must not let a
	// resume enter a phase whose dependencies never ran.
	if missing := c.graph.MissingDependencies(fromPhase, c.completedSet()); len(missing) > 0 {
		return nil, fmt.Errorf("phase %q requires %v: %w", fromPhase, missing, ErrDependencyNotMet)
	}

	c.currentPhase = fromPhase
	c.halted = false

	if userInput != nil {
		provided := &models.PhaseExecutionResult{
			Phase:  fromPhase,
			Status: models.PhaseStatusUserInputProvided,
			Data:   userInput,
		}
		c.results[fromPhase] = provided

		if phaseCfg.RequiresUserInput && approved(userInput) {
			next, ok := c.cfg.NextPhase(fromPhase)
			if !ok {
				// Approval was the terminal phase; the provided input ends
				// the flow.
				c.persist()
				return provided, nil
			}
			c.currentPhase = next
		}
	}

	c.persist()
	return c.ExecuteCurrentPhase()
}

// invoke dispatches to the phase handler, converting an error or panic into
// a failed result at this boundary. Failures are never re-thrown.
func (c *Controller) invoke(phaseCfg *models.PhaseConfig, previous *models.PhaseExecutionResult) (result *models.PhaseExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[flow] %s: handler for phase %q panicked: %v", c.flowID, phaseCfg.Name, r)
			result = &models.PhaseExecutionResult{
				Phase:  phaseCfg.Name,
				Status: models.PhaseStatusFailed,
				Error:  fmt.Sprintf("handler panic: %v", r),
			}
		}
	}()

	handler := c.handlers[phaseCfg.Name]
	res, err := handler(previous)
	if err != nil {
		return &models.PhaseExecutionResult{
			Phase:  phaseCfg.Name,
			Status: models.PhaseStatusFailed,
			Error:  err.Error(),
		}
	}
	if res == nil {
		return &models.PhaseExecutionResult{
			Phase:  phaseCfg.Name,
			Status: models.PhaseStatusFailed,
			Error:  "handler returned no result",
		}
	}

	res.Phase = phaseCfg.Name
	if res.Status == "" {
		if res.RequiresUserInput {
			res.Status = models.PhaseStatusWaitingApproval
		} else {
			res.Status = models.PhaseStatusCompleted
		}
	}
	return res
}

// previousResult returns the stored result of the phase preceding the
// current one in the sequence, or nil for the first phase.
func (c *Controller) previousResult() *models.PhaseExecutionResult {
	idx := c.cfg.PhaseIndex(c.currentPhase)
	if idx <= 0 {
		return nil
	}
	return c.results[c.cfg.Phases[idx-1].Name]
}

// completedSet returns the set of phases whose stored result counts as
// complete.
func (c *Controller) completedSet() map[string]bool {
	completed := make(map[string]bool, len(c.results))
	for phase, res := range c.results {
		if res.Succeeded() {
			completed[phase] = true
		}
	}
	return completed
}

// Status summarizes controller progress for callers.
type Status struct {
	CurrentPhase       string  `json:"current_phase"`
	ExecutionHalted    bool    `json:"execution_halted"`
	CompletedPhases    int     `json:"completed_phases"`
	TotalPhases        int     `json:"total_phases"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// GetFlowStatus returns the controller's progress.
func (c *Controller) GetFlowStatus() Status {
	completed := len(c.completedSet())
	total := len(c.cfg.Phases)

	var pct float64
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	return Status{
		CurrentPhase:       c.currentPhase,
		ExecutionHalted:    c.halted,
		CompletedPhases:    completed,
		TotalPhases:        total,
		ProgressPercentage: pct,
	}
}

// IsWaitingForUserInput reports whether the flow is halted at a phase that
// requires user input.
func (c *Controller) IsWaitingForUserInput() bool {
	if !c.halted {
		return false
	}
	phaseCfg := c.cfg.Phase(c.currentPhase)
	return phaseCfg != nil && phaseCfg.RequiresUserInput
}

// CurrentPhase returns the name of the phase the controller is at.
func (c *Controller) CurrentPhase() string {
	return c.currentPhase
}

// Halted reports whether execution is halted pending a resume.
func (c *Controller) Halted() bool {
	return c.halted
}

// Result returns the stored result for a phase, or nil.
func (c *Controller) Result(phase string) *models.PhaseExecutionResult {
	return c.results[phase]
}

// PhaseCompletion returns the completion map suitable for persisting on the
// child record.
func (c *Controller) PhaseCompletion() map[string]bool {
	completion := make(map[string]bool, len(c.cfg.Phases))
	completed := c.completedSet()
	for _, p := range c.cfg.Phases {
		completion[p.Name] = completed[p.Name]
	}
	return completion
}

// approved reports whether user input indicates approval.
func approved(input map[string]any) bool {
	v, ok := input["approved"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
