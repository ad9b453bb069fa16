// Package models defines the shared domain types for the flow engine:
// master/child flow records, flow type configuration, and phase results.
package models

import (
	"fmt"
	"time"
)

// MasterStatus represents the lifecycle status of a master flow record.
// It is type-agnostic: every flow type shares the same lifecycle values.
type MasterStatus string

const (
	MasterInitialized MasterStatus = "initialized"
	MasterRunning     MasterStatus = "running"
	MasterPaused      MasterStatus = "paused"
	MasterCompleted   MasterStatus = "completed"
	MasterFailed      MasterStatus = "failed"
	// MasterDeleted is sticky: once a master flow is deleted, no component
	// may overwrite its status.
	MasterDeleted MasterStatus = "deleted"
)

// IsValid reports whether s is a known master status value.
func (s MasterStatus) IsValid() bool {
	switch s {
	case MasterInitialized, MasterRunning, MasterPaused, MasterCompleted, MasterFailed, MasterDeleted:
		return true
	}
	return false
}

// ChildStatus represents the flow-type-specific operational status of a
// child flow record. Flow types may define additional values; these are
// the ones the lifecycle and reconciliation components interpret.
type ChildStatus string

const (
	ChildActive             ChildStatus = "active"
	ChildProcessing         ChildStatus = "processing"
	ChildPaused             ChildStatus = "paused"
	ChildWaitingForApproval ChildStatus = "waiting_for_approval"
	ChildCompleted          ChildStatus = "completed"
	ChildFailed             ChildStatus = "failed"
	ChildDeleted            ChildStatus = "deleted"
)

// TenantKey identifies the isolation boundary for pooled resources and
// flow ownership. Two keys are equal only when both components match.
type TenantKey struct {
	ClientID     string `json:"client_id"`
	EngagementID string `json:"engagement_id"`
}

// String returns the canonical "client/engagement" form of the key.
func (k TenantKey) String() string {
	return fmt.Sprintf("%s/%s", k.ClientID, k.EngagementID)
}

// IsZero reports whether the key has no components set.
func (k TenantKey) IsZero() bool {
	return k.ClientID == "" && k.EngagementID == ""
}

// MasterFlow is the type-agnostic lifecycle record for a flow instance.
// It is owned exclusively by the status synchronization service.
type MasterFlow struct {
	FlowID    string         `json:"flow_id"`
	FlowType  string         `json:"flow_type"`
	Status    MasterStatus   `json:"status"`
	Tenant    TenantKey      `json:"tenant"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ChildFlow is the flow-type-specific operational record sharing the
// master's flow ID. One master always has exactly one child of the
// matching type.
type ChildFlow struct {
	FlowID          string          `json:"flow_id"`
	FlowType        string          `json:"flow_type"`
	Status          ChildStatus     `json:"status"`
	PhaseCompletion map[string]bool `json:"phase_completion"`
	PhaseData       map[string]any  `json:"phase_data"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsPhaseComplete reports whether the named phase is marked complete.
func (c *ChildFlow) IsPhaseComplete(phase string) bool {
	if c.PhaseCompletion == nil {
		return false
	}
	return c.PhaseCompletion[phase]
}
