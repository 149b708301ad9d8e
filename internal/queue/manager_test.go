package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestManager(t *testing.T, visibility, backoff time.Duration, maxReceive, retention int) *Manager {
	t.Helper()
	m, err := NewManager(newTestDB(t), "test_queue", visibility, maxReceive, backoff, retention, arbor.NewLogger())
	require.NoError(t, err)
	return m
}

func TestManager_EnqueueReceiveComplete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Second, 2, 10)

	id, err := m.Enqueue(ctx, "dedup-a", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "dedup-a", msg.DedupID)
	assert.Equal(t, 1, msg.ReceiveCount)

	// Leased message is not re-delivered
	_, err = m.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, m.Complete(ctx, msg))

	waiting, active, failed, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, waiting)
	assert.Zero(t, active)
	assert.Zero(t, failed)
}

func TestManager_DedupRejectsWhileQueued(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Second, 2, 10)

	_, err := m.Enqueue(ctx, "scrape:ws_1:src_1", []byte(`{}`))
	require.NoError(t, err)

	_, err = m.Enqueue(ctx, "scrape:ws_1:src_1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrDuplicateJob)

	// A different dedup key is independent
	_, err = m.Enqueue(ctx, "scrape:ws_1:src_2", []byte(`{}`))
	require.NoError(t, err)

	// Dedup holds through the in-flight lease
	msg, err := m.Receive(ctx)
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, msg.DedupID, []byte(`{}`))
	assert.ErrorIs(t, err, ErrDuplicateJob)

	// Completion releases the reservation
	require.NoError(t, m.Complete(ctx, msg))
	_, err = m.Enqueue(ctx, msg.DedupID, []byte(`{}`))
	require.NoError(t, err)
}

func TestManager_FailRetriesThenRetires(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Millisecond, 2, 10)

	_, err := m.Enqueue(ctx, "dedup-retry", []byte(`{}`))
	require.NoError(t, err)

	// First attempt fails: message comes back after the backoff
	msg, err := m.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, msg, errors.New("session crashed")))

	time.Sleep(5 * time.Millisecond)
	msg, err = m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, msg.ReceiveCount)

	// Second failure exhausts the receive limit: retired, dedup released
	require.NoError(t, m.Fail(ctx, msg, errors.New("session crashed again")))

	_, err = m.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	waiting, active, failed, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, waiting)
	assert.Zero(t, active)
	assert.Equal(t, 1, failed)

	_, err = m.Enqueue(ctx, "dedup-retry", []byte(`{}`))
	require.NoError(t, err)
}

func TestManager_FailedRetentionBounded(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Millisecond, 1, 3)

	for i := 0; i < 6; i++ {
		_, err := m.Enqueue(ctx, "", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)

		msg, err := m.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, m.Fail(ctx, msg, errors.New("boom")))
	}

	_, _, failed, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, failed, "failed ring must stay at the retention bound")
}

func TestManager_DeleteFailedBefore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Millisecond, 1, 10)

	_, err := m.Enqueue(ctx, "", []byte(`{}`))
	require.NoError(t, err)
	msg, err := m.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, msg, errors.New("boom")))

	deleted, err := m.DeleteFailedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, _, failed, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestManager_OrderedDelivery(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, time.Minute, time.Second, 2, 10)

	first, err := m.Enqueue(ctx, "", []byte(`{"n":1}`))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Enqueue(ctx, "", []byte(`{"n":2}`))
	require.NoError(t, err)

	msg, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, msg.ID)

	msg, err = m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, msg.ID)
}
