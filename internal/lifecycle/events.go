package lifecycle

import (
	"log"
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// StatusEvent is a non-critical status update carried over the event path.
// Events are keyed by (FlowID, Timestamp) so a durable queue with
// idempotent consumers can replace the in-process application without
// changing the apply function: status writes are absolute, so applying the
// same event twice is a no-op.
type StatusEvent struct {
	FlowID      string              `json:"flow_id"`
	FlowType    string              `json:"flow_type"`
	ChildStatus models.ChildStatus  `json:"child_status"`
	// MasterStatus is applied only when RequiresMasterSync is set.
	MasterStatus       models.MasterStatus `json:"master_status,omitempty"`
	RequiresMasterSync bool                `json:"requires_master_sync,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// PublishStatusEvent applies a status event. This is the lower-guarantee
// path: no lock, no single transaction across master and child. The child
// status is always applied; the master status only when the event requires
// master sync.
//
// In this deployment the event is applied synchronously in-process. A
// multi-instance deployment routes the same events through a durable queue
// instead.
func (s *Service) PublishStatusEvent(event StatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := s.db.UpdateChildStatus(event.FlowID, event.FlowType, event.ChildStatus); err != nil {
		return err
	}

	if event.RequiresMasterSync {
		if err := s.db.UpdateMasterStatus(event.FlowID, event.MasterStatus); err != nil {
			return err
		}
	}

	// Drop any snapshot built before this event; the next read rebuilds
	// from the store.
	s.cache.Invalidate(snapshotKey(event.FlowID))

	log.Printf("[lifecycle] %s: event applied child=%s master_sync=%t", event.FlowID, event.ChildStatus, event.RequiresMasterSync)
	return nil
}
