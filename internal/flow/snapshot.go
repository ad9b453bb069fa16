package flow

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/flowline/flowline/pkg/models"
)

// Snapshot is the serialized controller state. A pause is a call-return
// boundary: nothing stays suspended in memory, the snapshot plus a fresh
// Restore call is the whole resume mechanism.
type Snapshot struct {
	FlowID       string                                  `json:"flow_id"`
	FlowType     string                                  `json:"flow_type"`
	CurrentPhase string                                  `json:"current_phase"`
	Halted       bool                                    `json:"halted"`
	Started      bool                                    `json:"started"`
	Results      map[string]*models.PhaseExecutionResult `json:"results"`
}

// Snapshot captures the controller's current state.
func (c *Controller) Snapshot() *Snapshot {
	results := make(map[string]*models.PhaseExecutionResult, len(c.results))
	for k, v := range c.results {
		results[k] = v
	}
	return &Snapshot{
		FlowID:       c.flowID,
		FlowType:     c.cfg.Name,
		CurrentPhase: c.currentPhase,
		Halted:       c.halted,
		Started:      c.started,
		Results:      results,
	}
}

// persist writes the snapshot through the snapshot store, if configured.
// Persistence failures are logged, not fatal: the in-memory state remains
// authoritative for the current call.
func (c *Controller) persist() {
	if c.snapshots == nil {
		return
	}

	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		log.Printf("[flow] %s: marshal snapshot: %v", c.flowID, err)
		return
	}
	if err := c.snapshots.SaveSnapshot(c.flowID, c.cfg.Name, data); err != nil {
		log.Printf("[flow] %s: save snapshot: %v", c.flowID, err)
	}
}

// Restore reconstructs a controller from its persisted snapshot.
func Restore(flowID string, cfg *models.FlowTypeConfig, handlers HandlerTable, store SnapshotStore, opts ...Option) (*Controller, error) {
	data, err := store.GetSnapshot(flowID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", flowID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", flowID, err)
	}
	if snap.FlowType != cfg.Name {
		return nil, fmt.Errorf("snapshot for %s is flow type %q, want %q", flowID, snap.FlowType, cfg.Name)
	}

	c, err := NewController(flowID, cfg, handlers, opts...)
	if err != nil {
		return nil, err
	}
	if c.snapshots == nil {
		c.snapshots = store
	}

	c.currentPhase = snap.CurrentPhase
	c.halted = snap.Halted
	c.started = snap.Started
	if snap.Results != nil {
		c.results = snap.Results
	}
	return c, nil
}
