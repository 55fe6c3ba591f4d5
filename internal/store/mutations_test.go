package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendTestMutation(t *testing.T, s *Store, id string, typ MutationType) *PendingMutation {
	t.Helper()
	m := &PendingMutation{
		ID:             id,
		Type:           typ,
		Payload:        json.RawMessage(`{"prospectId":"p1"}`),
		IdempotencyKey: "key-" + id,
		EnqueuedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.AppendMutation(context.Background(), m))
	return m
}

func TestMutationQueueFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		appendTestMutation(t, s, fmt.Sprintf("m%d", i), MutationWatchlistAdd)
	}

	pending, err := s.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	for i, m := range pending {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.ID, "enqueue order preserved")
	}
	assert.Less(t, pending[0].Seq, pending[4].Seq)
}

func TestAppendMutationAssignsSeq(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	first := appendTestMutation(t, s, "m1", MutationWatchlistAdd)
	second := appendTestMutation(t, s, "m2", MutationPreferenceUpdate)

	assert.NotZero(t, first.Seq)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestAppendMutationDuplicateID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	appendTestMutation(t, s, "m1", MutationWatchlistAdd)
	err := s.AppendMutation(context.Background(), &PendingMutation{
		ID: "m1", Type: MutationWatchlistAdd, Payload: []byte(`{}`), EnqueuedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransactionFailed))
}

func TestUpdateMutationRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	appendTestMutation(t, s, "m1", MutationWatchlistAdd)

	next := time.Now().Add(2 * time.Second).UTC()
	require.NoError(t, s.UpdateMutationRetry(ctx, "m1", 2, next))

	pending, err := s.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	require.NotNil(t, pending[0].NextAttempt)
	assert.WithinDuration(t, next, *pending[0].NextAttempt, time.Second)

	// A stale writer with a lower count loses; the count stays monotone.
	require.NoError(t, s.UpdateMutationRetry(ctx, "m1", 1, time.Now().UTC()))

	pending, err = s.PendingMutations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending[0].RetryCount)
}

func TestDeleteMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	appendTestMutation(t, s, "m1", MutationWatchlistAdd)
	require.NoError(t, s.DeleteMutation(ctx, "m1"))
	// Deleting again is a no-op.
	require.NoError(t, s.DeleteMutation(ctx, "m1"))

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMoveToDeadLetter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	m := appendTestMutation(t, s, "m1", MutationComparisonCreate)
	m.RetryCount = 4
	require.NoError(t, s.MoveToDeadLetter(ctx, m, "transport: unexpected status 500"))

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "dead-lettered mutation leaves the queue")

	letters, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "m1", letters[0].ID)
	assert.Equal(t, MutationComparisonCreate, letters[0].Type)
	assert.Equal(t, 4, letters[0].RetryCount)
	assert.Contains(t, letters[0].Reason, "status 500")
	assert.False(t, letters[0].FailedAt.IsZero())
}

func TestMoveToDeadLetterSkipsWipedMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	m := appendTestMutation(t, s, "m1", MutationWatchlistAdd)
	require.NoError(t, s.ClearPending(ctx))

	// The queue row was wiped while delivery was in flight; the dead-letter
	// log must not resurrect it.
	m.RetryCount = 4
	require.NoError(t, s.MoveToDeadLetter(ctx, m, "transport: unexpected status 500"))

	letters, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestClearPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	appendTestMutation(t, s, "m1", MutationWatchlistAdd)
	appendTestMutation(t, s, "m2", MutationWatchlistRemove)

	require.NoError(t, s.ClearPending(ctx))

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
