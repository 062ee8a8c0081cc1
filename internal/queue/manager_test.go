package queue

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/models"
)

func testManager(t *testing.T, visibilityTimeout time.Duration, maxReceive int) *Manager {
	t.Helper()

	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr, err := NewManager(db, "test", visibilityTimeout, maxReceive, arbor.NewLogger())
	require.NoError(t, err)
	return mgr
}

func TestEnqueueReceiveDelete(t *testing.T) {
	mgr := testManager(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job-1", Type: "link_import"}))

	msg, deleteFn, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, "link_import", msg.Type)

	require.NoError(t, deleteFn())

	_, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	depth, err := mgr.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDelayedMessageInvisibleUntilDue(t *testing.T) {
	mgr := testManager(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.EnqueueDelayed(ctx, models.QueueMessage{JobID: "job-1"}, 100*time.Millisecond))

	_, _, err := mgr.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage, "delayed message must not be visible yet")

	depth, err := mgr.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "delayed message still counts toward depth")

	time.Sleep(150 * time.Millisecond)

	msg, deleteFn, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.JobID)
	require.NoError(t, deleteFn())
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	mgr := testManager(t, 100*time.Millisecond, 5)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job-1"}))

	// Receive without deleting: simulates a crashed worker
	_, _, err := mgr.Receive(ctx)
	require.NoError(t, err)

	_, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage, "in-flight message is hidden")

	time.Sleep(150 * time.Millisecond)

	msg, deleteFn, err := mgr.Receive(ctx)
	require.NoError(t, err, "message redelivered after visibility timeout")
	assert.Equal(t, "job-1", msg.JobID)
	require.NoError(t, deleteFn())
}

func TestMaxReceiveMovesToDeadLetter(t *testing.T) {
	mgr := testManager(t, 10*time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job-1"}))

	for i := 0; i < 2; i++ {
		_, _, err := mgr.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	// Third delivery attempt exceeds maxReceive: dead-lettered, not delivered
	_, _, err := mgr.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	depth, err := mgr.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "dead-lettered message leaves the active queue")
}

func TestReceiveOrdersByVisibility(t *testing.T) {
	mgr := testManager(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.EnqueueDelayed(ctx, models.QueueMessage{JobID: "later"}, 50*time.Millisecond))
	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "now"}))

	msg, deleteFn, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "now", msg.JobID, "ready message delivered before delayed one")
	require.NoError(t, deleteFn())
}
