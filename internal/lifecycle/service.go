// Package lifecycle implements the status synchronization service: atomic
// master+child status transitions under a distributed lock, the
// lower-guarantee event path, and consistency validation/recovery.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/flowline/flowline/internal/cache"
	"github.com/flowline/flowline/internal/state"
	"github.com/flowline/flowline/pkg/models"
)

// Service errors.
var (
	// ErrLockAcquisitionFailed indicates the flow lock could not be acquired
	// after one retry. The operation was never attempted; callers may retry.
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")
	// ErrInconsistentState indicates validation detected a master/child
	// mismatch that cannot be healed automatically. Callers should trigger
	// reconciliation rather than retry blindly.
	ErrInconsistentState = errors.New("inconsistent flow state")
)

// Store is the persistence surface the service writes through. The
// master+child transition must be transactional: either both statuses
// commit or neither does.
type Store interface {
	GetMasterFlow(flowID string) (*models.MasterFlow, error)
	GetChildFlow(flowID, flowType string) (*models.ChildFlow, error)
	ApplyStatusTransition(flowID, flowType string, master models.MasterStatus, child models.ChildStatus, metadata map[string]any) error
	UpdateMasterStatus(flowID string, status models.MasterStatus) error
	UpdateChildStatus(flowID, flowType string, status models.ChildStatus) error
}

// Service performs master/child status synchronization. The master record
// is owned exclusively by this service.
type Service struct {
	store state.LockService
	db    Store
	cache cache.Cache

	lockTTL    time.Duration
	retryDelay time.Duration
	cacheTTL   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLockTTL overrides the lock TTL (default state.DefaultLockTTL).
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) { s.lockTTL = ttl }
}

// WithRetryDelay overrides the delay before the single lock retry.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) { s.retryDelay = d }
}

// WithCacheTTL overrides the combined-status snapshot TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// NewService creates a status synchronization service.
func NewService(db Store, locks state.LockService, c cache.Cache, opts ...Option) *Service {
	s := &Service{
		store:      locks,
		db:         db,
		cache:      c,
		lockTTL:    state.DefaultLockTTL,
		retryDelay: 500 * time.Millisecond,
		cacheTTL:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateResult reports a completed status update.
type UpdateResult struct {
	Success      bool                `json:"success"`
	FlowID       string              `json:"flow_id"`
	MasterStatus models.MasterStatus `json:"master_status"`
	ChildStatus  models.ChildStatus  `json:"child_status"`
	UpdateType   string              `json:"update_type"`
	Timestamp    time.Time           `json:"timestamp"`
}

// CombinedStatus is the cached master+child snapshot for one flow.
type CombinedStatus struct {
	FlowID       string              `json:"flow_id"`
	FlowType     string              `json:"flow_type"`
	MasterStatus models.MasterStatus `json:"master_status"`
	ChildStatus  models.ChildStatus  `json:"child_status"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// snapshotKey is the cache key for a flow's combined status.
func snapshotKey(flowID string) string {
	return "flow-status:" + flowID
}

// UpdateStatusAtomically performs a critical status transition: acquire the
// flow lock (one retry), write master and child in one transaction,
// refresh the cached snapshot, release the lock unconditionally.
func (s *Service) UpdateStatusAtomically(ctx context.Context, flowID, flowType string, child models.ChildStatus, master models.MasterStatus, metadata map[string]any) (*UpdateResult, error) {
	lock, err := s.acquireWithRetry(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := s.store.ReleaseLock(ctx, flowID, lock.LockID); releaseErr != nil {
			log.Printf("[lifecycle] %s: release lock: %v", flowID, releaseErr)
		}
	}()

	if err := s.db.ApplyStatusTransition(flowID, flowType, master, child, metadata); err != nil {
		return nil, err
	}

	// Invalidate before writing so no reader holds a stale snapshot across
	// the transition; a miss falls back to the authoritative store.
	s.cache.Invalidate(snapshotKey(flowID))
	now := time.Now()
	s.cache.Set(snapshotKey(flowID), &CombinedStatus{
		FlowID:       flowID,
		FlowType:     flowType,
		MasterStatus: master,
		ChildStatus:  child,
		UpdatedAt:    now,
	}, s.cacheTTL)

	return &UpdateResult{
		Success:      true,
		FlowID:       flowID,
		MasterStatus: master,
		ChildStatus:  child,
		UpdateType:   "atomic",
		Timestamp:    now,
	}, nil
}

// acquireWithRetry attempts the flow lock, retrying exactly once after a
// short delay. The transition is never attempted without the lock.
func (s *Service) acquireWithRetry(ctx context.Context, flowID string) (*state.Lock, error) {
	lock, err := s.store.AcquireLock(ctx, flowID, s.lockTTL)
	if err == nil {
		return lock, nil
	}

	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lock, err = s.store.AcquireLock(ctx, flowID, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w: %v", flowID, ErrLockAcquisitionFailed, err)
	}
	return lock, nil
}

// GetCombinedStatus returns the cached snapshot for a flow, falling back to
// the authoritative store on a miss.
func (s *Service) GetCombinedStatus(ctx context.Context, flowID, flowType string) (*CombinedStatus, error) {
	if v, ok := s.cache.Get(snapshotKey(flowID)); ok {
		if snap, ok := v.(*CombinedStatus); ok {
			return snap, nil
		}
	}

	m, err := s.db.GetMasterFlow(flowID)
	if err != nil {
		return nil, err
	}
	c, err := s.db.GetChildFlow(flowID, flowType)
	if err != nil {
		return nil, err
	}

	snap := &CombinedStatus{
		FlowID:       flowID,
		FlowType:     flowType,
		MasterStatus: m.Status,
		ChildStatus:  c.Status,
		UpdatedAt:    m.UpdatedAt,
	}
	s.cache.Set(snapshotKey(flowID), snap, s.cacheTTL)
	return snap, nil
}

// Convenience transitions with fixed status pairs.

// StartFlow marks a flow running (child active, master running).
func (s *Service) StartFlow(ctx context.Context, flowID, flowType string) (*UpdateResult, error) {
	return s.UpdateStatusAtomically(ctx, flowID, flowType, models.ChildActive, models.MasterRunning, nil)
}

// PauseFlow marks a flow paused on both records.
func (s *Service) PauseFlow(ctx context.Context, flowID, flowType string) (*UpdateResult, error) {
	return s.UpdateStatusAtomically(ctx, flowID, flowType, models.ChildPaused, models.MasterPaused, nil)
}

// ResumeFlow marks a paused flow running again.
func (s *Service) ResumeFlow(ctx context.Context, flowID, flowType string) (*UpdateResult, error) {
	return s.UpdateStatusAtomically(ctx, flowID, flowType, models.ChildActive, models.MasterRunning, nil)
}

// HoldForApproval marks a flow waiting for user input (master paused).
func (s *Service) HoldForApproval(ctx context.Context, flowID, flowType string) (*UpdateResult, error) {
	return s.UpdateStatusAtomically(ctx, flowID, flowType, models.ChildWaitingForApproval, models.MasterPaused, nil)
}

// CompleteFlow marks a flow completed on both records.
func (s *Service) CompleteFlow(ctx context.Context, flowID, flowType string) (*UpdateResult, error) {
	return s.UpdateStatusAtomically(ctx, flowID, flowType, models.ChildCompleted, models.MasterCompleted, nil)
}

// FailFlow marks a flow failed on both records, recording the reason in
// master metadata.
func (s *Service) FailFlow(ctx context.Context, flowID, flowType, reason string) (*UpdateResult, error) {
	var metadata map[string]any
	if reason != "" {
		metadata = map[string]any{"failure_reason": reason}
	}
	return s.UpdateStatusAtomically(ctx, flowID, flowType, models.ChildFailed, models.MasterFailed, metadata)
}

// DeleteFlow marks a flow deleted. Deleted is sticky: no later transition
// may overwrite it.
func (s *Service) DeleteFlow(ctx context.Context, flowID, flowType string) (*UpdateResult, error) {
	return s.UpdateStatusAtomically(ctx, flowID, flowType, models.ChildDeleted, models.MasterDeleted, nil)
}
