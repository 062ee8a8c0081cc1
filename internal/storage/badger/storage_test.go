package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/common"
	"github.com/mixforge/mixforge/internal/models"
)

func testDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir() + "/badger"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobStorageCRUD(t *testing.T) {
	db := testDB(t)
	store := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := models.NewJob(models.JobKindLinkImport, models.FileOwner{Kind: models.OwnerProject, ID: "p1"}, "https://example.com/share")
	require.NoError(t, store.CreateJob(ctx, job))

	err := store.CreateJob(ctx, job)
	require.Error(t, err, "duplicate IDs are rejected")
	assert.Contains(t, err.Error(), "already exists")

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, models.JobStatusQueued, loaded.Status)

	_, err = store.GetJob(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestJobStorageUpdateReadModifyWrite(t *testing.T) {
	db := testDB(t)
	store := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := models.NewJob(models.JobKindLinkImport, models.FileOwner{Kind: models.OwnerPitch, ID: "x1"}, "https://example.com/share")
	require.NoError(t, store.CreateJob(ctx, job))

	require.NoError(t, store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.Transition(models.JobStatusAnalyzing)
		return nil
	}))
	require.NoError(t, store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.SetProgress(1, 5, "kick.wav", "downloading")
		return nil
	}))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAnalyzing, loaded.Status, "earlier status update survives later progress update")
	assert.Equal(t, 1, loaded.Progress.Completed)

	// A mutate error aborts the write
	wantErr := fmt.Errorf("refused")
	err = store.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.ErrorMessage = "should not persist"
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	loaded, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.ErrorMessage)
}

func TestJobStorageStaleJobs(t *testing.T) {
	db := testDB(t)
	store := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	owner := models.FileOwner{Kind: models.OwnerProject, ID: "p1"}

	stuck := models.NewJob(models.JobKindLinkImport, owner, "https://example.com/a")
	stuck.Status = models.JobStatusImporting
	stuck.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.CreateJob(ctx, stuck))

	finished := models.NewJob(models.JobKindLinkImport, owner, "https://example.com/b")
	finished.Status = models.JobStatusCompleted
	finished.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.CreateJob(ctx, finished))

	fresh := models.NewJob(models.JobKindLinkImport, owner, "https://example.com/c")
	fresh.Status = models.JobStatusImporting
	require.NoError(t, store.CreateJob(ctx, fresh))

	stale, err := store.StaleJobs(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1, "only non-terminal jobs past the cutoff are stale")
	assert.Equal(t, stuck.ID, stale[0].ID)
}

func TestLockStorageLeases(t *testing.T) {
	db := testDB(t)
	locks := NewLockStorage(db, arbor.NewLogger())
	ctx := context.Background()

	acquired, err := locks.Acquire(ctx, "link_import:job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second acquire while held is refused without error
	acquired, err = locks.Acquire(ctx, "link_import:job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// A different key is independent
	acquired, err = locks.Acquire(ctx, "link_import:job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, locks.Release(ctx, "link_import:job-1"))
	acquired, err = locks.Acquire(ctx, "link_import:job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "released lease can be retaken")

	// Releasing an unheld lease is a no-op
	assert.NoError(t, locks.Release(ctx, "never-held"))
}

func TestLockStorageTTLExpiry(t *testing.T) {
	db := testDB(t)
	locks := NewLockStorage(db, arbor.NewLogger())
	ctx := context.Background()

	acquired, err := locks.Acquire(ctx, "crashed-holder", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	// Badger hides expired entries, so the lease frees itself without a
	// Release from the (crashed) holder
	time.Sleep(1100 * time.Millisecond)

	acquired, err = locks.Acquire(ctx, "crashed-holder", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "expired lease must be acquirable")
}

func TestLedgerStoragePayouts(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	due := &models.Payout{
		ID: "pay-1", ProducerID: "u1", AmountCents: 5000,
		Status: models.PayoutScheduled, HoldReleaseAt: now.Add(-time.Hour),
	}
	notYet := &models.Payout{
		ID: "pay-2", ProducerID: "u2", AmountCents: 9000,
		Status: models.PayoutScheduled, HoldReleaseAt: now.Add(time.Hour),
	}
	require.NoError(t, ledger.SavePayout(ctx, due))
	require.NoError(t, ledger.SavePayout(ctx, notYet))

	dueList, err := ledger.DuePayouts(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	assert.Equal(t, "pay-1", dueList[0].ID)

	require.NoError(t, ledger.MarkDisbursed(ctx, "pay-1"))
	dueList, err = ledger.DuePayouts(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, dueList, "disbursed payout leaves the due set")

	require.NoError(t, ledger.MarkPayoutFailed(ctx, "pay-2", "gateway refused"))
	dueList, err = ledger.DuePayouts(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, dueList, "failed payout leaves the due set too")
}

func TestLedgerStorageRequests(t *testing.T) {
	db := testDB(t)
	ledger := NewLedgerStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &models.AccessRequest{
		ID: "req-1", ProjectID: "p1", UserID: "u1",
		Status: models.RequestPending, ExpiresAt: now.Add(-time.Minute),
	}
	open := &models.AccessRequest{
		ID: "req-2", ProjectID: "p1", UserID: "u2",
		Status: models.RequestPending, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, ledger.SaveRequest(ctx, expired))
	require.NoError(t, ledger.SaveRequest(ctx, open))

	list, err := ledger.ExpiredRequests(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "req-1", list[0].ID)

	require.NoError(t, ledger.CloseRequest(ctx, "req-1"))
	list, err = ledger.ExpiredRequests(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, list, "closed request leaves the expired set")
}
