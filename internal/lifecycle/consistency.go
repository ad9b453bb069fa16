package lifecycle

import (
	"context"
	"fmt"
	"log"

	"github.com/flowline/flowline/pkg/models"
)

// ConsistencyReport is the outcome of a consistency check.
type ConsistencyReport struct {
	FlowID          string   `json:"flow_id"`
	Consistent      bool     `json:"consistent"`
	Inconsistencies []string `json:"inconsistencies,omitempty"`
}

// ValidateFlowConsistency loads both records and applies fixed rules:
// a deleted master is always consistent; a completed master with a
// non-completed child is inconsistent; a running master with a failed or
// deleted child is inconsistent.
func (s *Service) ValidateFlowConsistency(ctx context.Context, flowID, flowType string) (*ConsistencyReport, error) {
	m, err := s.db.GetMasterFlow(flowID)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{FlowID: flowID, Consistent: true}

	// Deleted is terminal and sticky; child status no longer matters.
	if m.Status == models.MasterDeleted {
		return report, nil
	}

	c, err := s.db.GetChildFlow(flowID, flowType)
	if err != nil {
		return nil, err
	}

	if m.Status == models.MasterCompleted && c.Status != models.ChildCompleted {
		report.Inconsistencies = append(report.Inconsistencies,
			fmt.Sprintf("master is completed but child is %s", c.Status))
	}
	if m.Status == models.MasterRunning && (c.Status == models.ChildFailed || c.Status == models.ChildDeleted) {
		report.Inconsistencies = append(report.Inconsistencies,
			fmt.Sprintf("master is running but child is %s", c.Status))
	}

	report.Consistent = len(report.Inconsistencies) == 0
	return report, nil
}

// RecoverFromPartialUpdate re-derives the master status from the child when
// the child is in a recoverable state. The child is treated as the source
// of truth: active re-derives running, paused re-derives paused. Used as a
// crash-recovery pass after an interrupted non-atomic update.
func (s *Service) RecoverFromPartialUpdate(ctx context.Context, flowID, flowType string) error {
	m, err := s.db.GetMasterFlow(flowID)
	if err != nil {
		return err
	}
	if m.Status == models.MasterDeleted {
		return nil
	}

	c, err := s.db.GetChildFlow(flowID, flowType)
	if err != nil {
		return err
	}

	var derived models.MasterStatus
	switch c.Status {
	case models.ChildActive:
		derived = models.MasterRunning
	case models.ChildPaused:
		derived = models.MasterPaused
	default:
		// Only active/paused children identify a recoverable partial update.
		return nil
	}

	if derived == m.Status {
		return nil
	}

	log.Printf("[lifecycle] %s: recovering master status %s -> %s from child %s", flowID, m.Status, derived, c.Status)
	if err := s.db.UpdateMasterStatus(flowID, derived); err != nil {
		return err
	}
	s.cache.Invalidate(snapshotKey(flowID))
	return nil
}
