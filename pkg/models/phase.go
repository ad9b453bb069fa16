package models

import "time"

// Phase result status values produced by phase handlers and the controller.
const (
	// PhaseStatusCompleted indicates the phase finished successfully.
	PhaseStatusCompleted = "completed"
	// PhaseStatusFailed indicates the handler returned an error or panicked.
	PhaseStatusFailed = "failed"
	// PhaseStatusWaitingApproval indicates the phase is waiting for user input.
	PhaseStatusWaitingApproval = "waiting_for_approval"
	// PhaseStatusUserInputProvided is synthesized when a resume supplies input
	// for a halted phase.
	PhaseStatusUserInputProvided = "user_input_provided"
)

// PhaseExecutionResult is the outcome of executing a single phase. Results
// are held in the controller's in-memory map keyed by phase name for the
// lifetime of one execution/resume cycle and persisted with the controller
// snapshot for resumability.
type PhaseExecutionResult struct {
	// Phase is the name of the phase that produced this result.
	Phase string `json:"phase"`
	// Status is one of the PhaseStatus values above, or a flow-type-specific
	// value the controller does not interpret.
	Status string `json:"status"`
	// Data carries arbitrary phase output, passed as input to the next phase.
	Data map[string]any `json:"data,omitempty"`
	// RequiresUserInput halts execution after this phase until a resume.
	RequiresUserInput bool `json:"requires_user_input,omitempty"`
	// NextPhase names the phase to advance to. Empty means the flow has
	// reached its terminal phase.
	NextPhase string `json:"next_phase,omitempty"`
	// Error holds the handler error message for failed results.
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the result counts toward phase completion.
// A provided user input completes its approval phase.
func (r *PhaseExecutionResult) Succeeded() bool {
	return r.Status == PhaseStatusCompleted || r.Status == PhaseStatusUserInputProvided
}

// RetryConfig declares retry policy for a phase. It is advisory metadata
// applied by the handler-invocation layer, never by the controller itself.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `json:"backoff" yaml:"backoff"`
}

// PhaseConfig describes one ordered, named unit of work in a flow type's
// sequence.
type PhaseConfig struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	// Dependencies names phases that must be complete before this phase
	// may start.
	Dependencies      []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	CanPause          bool     `json:"can_pause,omitempty" yaml:"can_pause,omitempty"`
	CanSkip           bool     `json:"can_skip,omitempty" yaml:"can_skip,omitempty"`
	CanRollback       bool     `json:"can_rollback,omitempty" yaml:"can_rollback,omitempty"`
	RequiresUserInput bool     `json:"requires_user_input,omitempty" yaml:"requires_user_input,omitempty"`
	// TimeoutSeconds is advisory; enforcement belongs to whatever executes
	// the handler.
	TimeoutSeconds int          `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Retry          *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	// Outputs declares the keys this phase is expected to produce in its
	// result data.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Capabilities declares what a flow type supports.
type Capabilities struct {
	PauseResume   bool `json:"pause_resume,omitempty" yaml:"pause_resume,omitempty"`
	Rollback      bool `json:"rollback,omitempty" yaml:"rollback,omitempty"`
	MaxIterations int  `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

// FlowTypeConfig is the immutable configuration for a flow type. Once
// registered for a given version it never changes; registering the same
// name+version again is a no-op and a different version replaces it.
type FlowTypeConfig struct {
	Name         string        `json:"name" yaml:"name"`
	Version      string        `json:"version" yaml:"version"`
	Phases       []PhaseConfig `json:"phases" yaml:"phases"`
	Capabilities Capabilities  `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Handlers names the lifecycle handlers for this flow type. The actual
	// handler functions are bound in code at startup.
	Handlers map[string]string `json:"handlers,omitempty" yaml:"handlers,omitempty"`
}

// Phase returns the config for the named phase, or nil if unknown.
func (c *FlowTypeConfig) Phase(name string) *PhaseConfig {
	for i := range c.Phases {
		if c.Phases[i].Name == name {
			return &c.Phases[i]
		}
	}
	return nil
}

// PhaseIndex returns the position of the named phase in the sequence,
// or -1 if unknown.
func (c *FlowTypeConfig) PhaseIndex(name string) int {
	for i := range c.Phases {
		if c.Phases[i].Name == name {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase that follows current in the configured
// sequence. The second return is false when current is unknown or last.
func (c *FlowTypeConfig) NextPhase(current string) (string, bool) {
	idx := c.PhaseIndex(current)
	if idx < 0 || idx+1 >= len(c.Phases) {
		return "", false
	}
	return c.Phases[idx+1].Name, true
}
