// Package state provides SQLite-based persistence for the flow engine.
package state

import (
	"context"
	"io"
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// MasterStore handles master-flow persistence operations.
type MasterStore interface {
	CreateFlow(m *models.MasterFlow, c *models.ChildFlow) error
	GetMasterFlow(flowID string) (*models.MasterFlow, error)
	UpdateMasterStatus(flowID string, status models.MasterStatus) error
	ApplyStatusTransition(flowID, flowType string, master models.MasterStatus, child models.ChildStatus, metadata map[string]any) error
	ListMasterFlows(tenant models.TenantKey) ([]models.MasterFlow, error)
}

// ChildStore handles child-flow persistence operations.
type ChildStore interface {
	GetChildFlow(flowID, flowType string) (*models.ChildFlow, error)
	UpdateChildStatus(flowID, flowType string, status models.ChildStatus) error
	UpdateChildPhases(flowID, flowType string, completion map[string]bool, data map[string]any) error
}

// LockService is the distributed lock service backing atomic status
// transitions. The returned Lock's LockID is the release token.
type LockService interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error)
	ReleaseLock(ctx context.Context, key, lockID string) error
	RenewLock(ctx context.Context, key, lockID string, ttl time.Duration) (*Lock, error)
}

// SnapshotStore persists serialized controller snapshots.
type SnapshotStore interface {
	SaveSnapshot(flowID, flowType string, snapshot []byte) error
	GetSnapshot(flowID string) ([]byte, error)
	DeleteSnapshot(flowID string) error
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// Store defines the full persistence interface. It composes focused
// sub-interfaces so consumers can depend on only what they use.
type Store interface {
	io.Closer
	Migrator
	MasterStore
	ChildStore
	LockService
	SnapshotStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ MasterStore   = (*DB)(nil)
	_ ChildStore    = (*DB)(nil)
	_ LockService   = (*DB)(nil)
	_ SnapshotStore = (*DB)(nil)
)
