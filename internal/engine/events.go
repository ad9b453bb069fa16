package engine

import (
	"sync/atomic"
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventFlowCreated indicates a flow was created and started.
	EventFlowCreated EventType = "flow_created"
	// EventFlowHalted indicates a flow halted pending user input.
	EventFlowHalted EventType = "flow_halted"
	// EventFlowResumed indicates a halted flow resumed execution.
	EventFlowResumed EventType = "flow_resumed"
	// EventFlowPaused indicates a flow was paused by request.
	EventFlowPaused EventType = "flow_paused"
	// EventFlowCompleted indicates a flow reached its terminal phase.
	EventFlowCompleted EventType = "flow_completed"
	// EventFlowFailed indicates a flow failed.
	EventFlowFailed EventType = "flow_failed"
	// EventFlowDeleted indicates a flow was soft-deleted.
	EventFlowDeleted EventType = "flow_deleted"
	// EventFlowReconciled indicates reconciliation changed a master status.
	EventFlowReconciled EventType = "flow_reconciled"
)

// Event is a notification emitted by the engine. Consumption is optional;
// events carry no state that is not also persisted.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// FlowID is the ID of the related flow.
	FlowID string
	// FlowType is the flow type of the related flow.
	FlowType string
	// Tenant is the owning tenant, if known.
	Tenant models.TenantKey
	// Phase is the phase the flow is at, if applicable.
	Phase string
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// emit publishes an event without blocking. When no consumer keeps up the
// event is counted as dropped rather than stalling the caller.
func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case e.events <- ev:
	default:
		atomic.AddInt64(&e.droppedEvents, 1)
	}
}

// Events returns the engine's event channel.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// DroppedEventCount returns how many events were dropped because the
// channel buffer was full.
func (e *Engine) DroppedEventCount() int64 {
	return atomic.LoadInt64(&e.droppedEvents)
}
