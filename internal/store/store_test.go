package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), SchemaVersion)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates schema at target version", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		version, err := s.Version(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SchemaVersion, version)
	})

	t.Run("rejects out-of-range version", func(t *testing.T) {
		t.Parallel()

		_, err := Open(filepath.Join(t.TempDir(), "test.db"), SchemaVersion+1)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindOpenFailed))

		_, err = Open(filepath.Join(t.TempDir(), "test.db"), 0)
		require.Error(t, err)
	})

	t.Run("reopen is idempotent", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "test.db")
		s, err := Open(path, SchemaVersion)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = Open(path, SchemaVersion)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})
}

func TestMigrationPreservesData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "test.db")

	// Populate a v1 database through raw SQL so the row predates the
	// idempotency_key column.
	s, err := Open(path, 1)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_mutations (id, type, payload, retry_count, enqueued_at)
		VALUES ('m1', 'watchlist_add', '{"prospectId":"p1"}', 0, ?)
	`, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.AddWatch(ctx, "p1"))
	require.NoError(t, s.Close())

	// Reopening at v2 upgrades in place.
	s, err = Open(path, SchemaVersion)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	pending, err := s.PendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "m1", pending[0].ID)
	assert.Equal(t, MutationWatchlistAdd, pending[0].Type)
	assert.Empty(t, pending[0].IdempotencyKey)

	watched, err := s.IsWatched(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, watched)
}

func TestProspects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("absent prospect is nil without error", func(t *testing.T) {
		p, err := s.GetProspect(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("read after write", func(t *testing.T) {
		in := &Prospect{ID: "p1", Name: "Jesus Made", Position: "SS", Organization: "MIL", Level: "A", ETA: 2027}
		require.NoError(t, s.PutProspect(ctx, in))

		out, err := s.GetProspect(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, "Jesus Made", out.Name)
		assert.Equal(t, "SS", out.Position)
		assert.False(t, out.UpdatedAt.IsZero())
	})

	t.Run("second write wins", func(t *testing.T) {
		require.NoError(t, s.PutProspect(ctx, &Prospect{ID: "p1", Name: "Jesus Made", Level: "AA"}))

		out, err := s.GetProspect(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "AA", out.Level)
	})

	t.Run("batch upsert", func(t *testing.T) {
		batch := []*Prospect{
			{ID: "p2", Name: "Sebastian Walcott"},
			{ID: "p3", Name: "Leo De Vries"},
		}
		require.NoError(t, s.PutProspects(ctx, batch))
		require.NoError(t, s.PutProspects(ctx, nil))

		listed, err := s.ListProspects(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, listed, 3)
	})
}

func TestSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snap := &RankingsSnapshot{
			CapturedAt: base.Add(time.Duration(i) * time.Hour),
			Entries:    []RankedEntry{{ProspectID: "p1", Rank: 1}},
			Count:      1,
		}
		require.NoError(t, s.PutSnapshot(ctx, snap))
	}

	latest, err := s.LatestSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.True(t, latest[0].CapturedAt.After(latest[1].CapturedAt), "newest snapshot first")
	assert.Equal(t, 1, latest[0].Count)
}

func TestWatchlist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	watched, err := s.IsWatched(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, watched)

	require.NoError(t, s.AddWatch(ctx, "p1"))
	// Adding twice is a no-op, not an error.
	require.NoError(t, s.AddWatch(ctx, "p1"))
	require.NoError(t, s.AddWatch(ctx, "p2"))

	watched, err = s.IsWatched(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, watched)

	entries, err := s.ListWatches(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, s.RemoveWatch(ctx, "p1"))
	// Removing an absent watch is also a no-op.
	require.NoError(t, s.RemoveWatch(ctx, "p1"))

	watched, err = s.IsWatched(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, watched)
}

func TestComparisons(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		c := &Comparison{
			ID:          string(rune('a' + i)),
			ProspectIDs: []string{"p1", "p2"},
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.PutComparison(ctx, c))
	}

	recent, err := s.RecentComparisons(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID, "newest comparison first")
	assert.Equal(t, []string{"p1", "p2"}, recent[0].ProspectIDs)
}

func TestPreferences(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	value, err := s.GetPreference(ctx, "theme")
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, s.PutPreference(ctx, "theme", json.RawMessage(`"dark"`)))
	require.NoError(t, s.PutPreference(ctx, "theme", json.RawMessage(`"light"`)))

	value, err = s.GetPreference(ctx, "theme")
	require.NoError(t, err)
	assert.JSONEq(t, `"light"`, string(value))
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("clear unknown table fails", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		err := s.Clear(ctx, "users; DROP TABLE prospects")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindTransactionFailed))
	})

	t.Run("clear all wipes every store", func(t *testing.T) {
		t.Parallel()

		s := newTestStore(t)
		require.NoError(t, s.PutProspect(ctx, &Prospect{ID: "p1", Name: "X"}))
		require.NoError(t, s.AddWatch(ctx, "p1"))
		require.NoError(t, s.AppendMutation(ctx, &PendingMutation{
			ID: "m1", Type: MutationWatchlistAdd, Payload: []byte(`{}`), EnqueuedAt: time.Now().UTC(),
		}))

		require.NoError(t, s.ClearAll(ctx))

		p, err := s.GetProspect(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, p)

		count, err := s.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		entries, err := s.ListWatches(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
