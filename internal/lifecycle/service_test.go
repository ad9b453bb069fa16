package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/flowline/internal/cache"
	"github.com/flowline/flowline/internal/state"
	"github.com/flowline/flowline/pkg/models"
)

func testService(t *testing.T) (*Service, *state.DB, *cache.Memory) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	c := cache.NewMemory()
	svc := NewService(db, db, c, WithRetryDelay(5*time.Millisecond))
	return svc, db, c
}

func createFlow(t *testing.T, db *state.DB, flowID, flowType string) {
	t.Helper()
	err := db.CreateFlow(
		&models.MasterFlow{
			FlowID:   flowID,
			FlowType: flowType,
			Status:   models.MasterInitialized,
			Tenant:   models.TenantKey{ClientID: "acme", EngagementID: "e1"},
		},
		&models.ChildFlow{FlowID: flowID, FlowType: flowType, Status: models.ChildActive},
	)
	require.NoError(t, err)
}

func TestUpdateStatusAtomically(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")

	result, err := svc.UpdateStatusAtomically(context.Background(), "f1", "review",
		models.ChildProcessing, models.MasterRunning, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "atomic", result.UpdateType)

	m, err := db.GetMasterFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, models.MasterRunning, m.Status)

	c, err := db.GetChildFlow("f1", "review")
	require.NoError(t, err)
	assert.Equal(t, models.ChildProcessing, c.Status)
}

func TestUpdateReleasesLockOnSuccess(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")
	ctx := context.Background()

	_, err := svc.UpdateStatusAtomically(ctx, "f1", "review", models.ChildActive, models.MasterRunning, nil)
	require.NoError(t, err)

	// The flow lock must be free again.
	lock, err := db.AcquireLock(ctx, "f1", time.Minute)
	require.NoError(t, err)
	db.ReleaseLock(ctx, "f1", lock.LockID)
}

func TestUpdateReleasesLockOnFailure(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	// Missing flow: the transition fails, the lock must still be released.
	_, err := svc.UpdateStatusAtomically(ctx, "ghost", "review", models.ChildActive, models.MasterRunning, nil)
	assert.ErrorIs(t, err, state.ErrNotFound)

	_, err = db.AcquireLock(ctx, "ghost", time.Minute)
	assert.NoError(t, err, "lock must be released after a failed transition")
}

func TestUpdateRetriesLockOnce(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")
	ctx := context.Background()

	// Hold the lock with a TTL that expires before the retry fires.
	_, err := db.AcquireLock(ctx, "f1", time.Millisecond)
	require.NoError(t, err)

	result, err := svc.UpdateStatusAtomically(ctx, "f1", "review", models.ChildActive, models.MasterRunning, nil)
	require.NoError(t, err, "the single retry should take over the expired lock")
	assert.True(t, result.Success)
}

func TestUpdateFailsWhenLockHeld(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")
	ctx := context.Background()

	lock, err := db.AcquireLock(ctx, "f1", time.Minute)
	require.NoError(t, err)
	defer db.ReleaseLock(ctx, "f1", lock.LockID)

	_, err = svc.UpdateStatusAtomically(ctx, "f1", "review", models.ChildActive, models.MasterRunning, nil)
	assert.ErrorIs(t, err, ErrLockAcquisitionFailed)

	// The transition was never attempted.
	m, err := db.GetMasterFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, models.MasterInitialized, m.Status)
}

func TestDeletedFlowRejectsTransitions(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")
	ctx := context.Background()

	_, err := svc.DeleteFlow(ctx, "f1", "review")
	require.NoError(t, err)

	_, err = svc.ResumeFlow(ctx, "f1", "review")
	assert.ErrorIs(t, err, state.ErrFlowDeleted)
}

func TestFailFlowRecordsReason(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")

	_, err := svc.FailFlow(context.Background(), "f1", "review", "analysis handler timeout")
	require.NoError(t, err)

	m, err := db.GetMasterFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, models.MasterFailed, m.Status)
	assert.Equal(t, "analysis handler timeout", m.Metadata["failure_reason"])
}

func TestGetCombinedStatusCachesAndFallsBack(t *testing.T) {
	svc, db, c := testService(t)
	createFlow(t, db, "f1", "review")
	ctx := context.Background()

	// Miss populates from the store.
	snap, err := svc.GetCombinedStatus(ctx, "f1", "review")
	require.NoError(t, err)
	assert.Equal(t, models.MasterInitialized, snap.MasterStatus)
	assert.Equal(t, 1, c.Len())

	// The atomic path refreshes the cached snapshot.
	_, err = svc.StartFlow(ctx, "f1", "review")
	require.NoError(t, err)

	snap, err = svc.GetCombinedStatus(ctx, "f1", "review")
	require.NoError(t, err)
	assert.Equal(t, models.MasterRunning, snap.MasterStatus)
	assert.Equal(t, models.ChildActive, snap.ChildStatus)
}

func TestPublishStatusEventChildOnly(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")

	err := svc.PublishStatusEvent(StatusEvent{
		FlowID:      "f1",
		FlowType:    "review",
		ChildStatus: models.ChildProcessing,
	})
	require.NoError(t, err)

	c, err := db.GetChildFlow("f1", "review")
	require.NoError(t, err)
	assert.Equal(t, models.ChildProcessing, c.Status)

	m, err := db.GetMasterFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, models.MasterInitialized, m.Status, "master must not change without RequiresMasterSync")
}

func TestPublishStatusEventMasterSync(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")

	err := svc.PublishStatusEvent(StatusEvent{
		FlowID:             "f1",
		FlowType:           "review",
		ChildStatus:        models.ChildCompleted,
		MasterStatus:       models.MasterCompleted,
		RequiresMasterSync: true,
	})
	require.NoError(t, err)

	m, err := db.GetMasterFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, models.MasterCompleted, m.Status)
}

func TestValidateFlowConsistency(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	createFlow(t, db, "f1", "review")
	report, err := svc.ValidateFlowConsistency(ctx, "f1", "review")
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	// Completed master over a still-active child.
	require.NoError(t, db.UpdateMasterStatus("f1", models.MasterCompleted))
	report, err = svc.ValidateFlowConsistency(ctx, "f1", "review")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Len(t, report.Inconsistencies, 1)

	// Running master over a failed child.
	createFlow(t, db, "f2", "review")
	require.NoError(t, db.UpdateMasterStatus("f2", models.MasterRunning))
	require.NoError(t, db.UpdateChildStatus("f2", "review", models.ChildFailed))
	report, err = svc.ValidateFlowConsistency(ctx, "f2", "review")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
}

func TestValidateDeletedAlwaysConsistent(t *testing.T) {
	svc, db, _ := testService(t)
	createFlow(t, db, "f1", "review")
	require.NoError(t, db.UpdateChildStatus("f1", "review", models.ChildFailed))
	require.NoError(t, db.UpdateMasterStatus("f1", models.MasterDeleted))

	report, err := svc.ValidateFlowConsistency(context.Background(), "f1", "review")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestRecoverFromPartialUpdate(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	// Child active but master still initialized: an interrupted update.
	createFlow(t, db, "f1", "review")
	require.NoError(t, svc.RecoverFromPartialUpdate(ctx, "f1", "review"))

	m, err := db.GetMasterFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, models.MasterRunning, m.Status)

	// Paused child re-derives a paused master.
	createFlow(t, db, "f2", "review")
	require.NoError(t, db.UpdateChildStatus("f2", "review", models.ChildPaused))
	require.NoError(t, svc.RecoverFromPartialUpdate(ctx, "f2", "review"))

	m, err = db.GetMasterFlow("f2")
	require.NoError(t, err)
	assert.Equal(t, models.MasterPaused, m.Status)

	// Failed child is not a recoverable partial state.
	createFlow(t, db, "f3", "review")
	require.NoError(t, db.UpdateChildStatus("f3", "review", models.ChildFailed))
	require.NoError(t, svc.RecoverFromPartialUpdate(ctx, "f3", "review"))

	m, err = db.GetMasterFlow("f3")
	require.NoError(t, err)
	assert.Equal(t, models.MasterInitialized, m.Status)
}
