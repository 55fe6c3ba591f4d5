package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PutProspect upserts a prospect by primary key, stamping UpdatedAt.
// Returns once the write has committed.
func (s *Store) PutProspect(ctx context.Context, p *Prospect) error {
	ctx, span := startSpan(ctx, "put_prospect")
	defer span.End()

	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return storageErr(KindTransactionFailed, "marshal prospect", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prospects (id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, p.ID, data, p.UpdatedAt)
	if err != nil {
		return storageErr(KindTransactionFailed, "upsert prospect", err)
	}
	return nil
}

// PutProspects upserts a batch of prospects in one transaction. Last write
// wins per record; partial batches never commit.
func (s *Store) PutProspects(ctx context.Context, ps []*Prospect) error {
	ctx, span := startSpan(ctx, "put_prospects")
	defer span.End()

	if len(ps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(KindTransactionFailed, "begin prospect batch", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, p := range ps {
		p.UpdatedAt = now
		data, err := json.Marshal(p)
		if err != nil {
			return storageErr(KindTransactionFailed, "marshal prospect", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prospects (id, data, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at
		`, p.ID, data, p.UpdatedAt); err != nil {
			return storageErr(KindTransactionFailed, "upsert prospect batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr(KindTransactionFailed, "commit prospect batch", err)
	}
	return nil
}

// GetProspect retrieves a prospect by id; absence is (nil, nil)
func (s *Store) GetProspect(ctx context.Context, id string) (*Prospect, error) {
	ctx, span := startSpan(ctx, "get_prospect")
	defer span.End()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM prospects WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query prospect", err)
	}

	p := &Prospect{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, storageErr(KindTransactionFailed, "unmarshal prospect", err)
	}
	p.ID = id
	return p, nil
}

// ListProspects returns up to limit cached prospects ordered by most recent
// update; limit <= 0 returns everything.
func (s *Store) ListProspects(ctx context.Context, limit int) ([]*Prospect, error) {
	ctx, span := startSpan(ctx, "list_prospects")
	defer span.End()

	query := `SELECT id, data FROM prospects ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query prospects", err)
	}
	defer rows.Close()

	var out []*Prospect
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, storageErr(KindTransactionFailed, "scan prospect", err)
		}
		p := &Prospect{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, storageErr(KindTransactionFailed, "unmarshal prospect", err)
		}
		p.ID = id
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(KindTransactionFailed, "iterate prospects", err)
	}
	return out, nil
}

// DeleteProspect removes a cached prospect
func (s *Store) DeleteProspect(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "delete_prospect")
	defer span.End()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM prospects WHERE id = ?`, id); err != nil {
		return storageErr(KindTransactionFailed, "delete prospect", err)
	}
	return nil
}

// PutSnapshot stores a rankings snapshot keyed by capture time. Snapshots
// are replace-only: writing the same capture time overwrites the whole
// snapshot, never merges it.
func (s *Store) PutSnapshot(ctx context.Context, snap *RankingsSnapshot) error {
	ctx, span := startSpan(ctx, "put_snapshot")
	defer span.End()

	snap.Count = len(snap.Entries)
	data, err := json.Marshal(snap)
	if err != nil {
		return storageErr(KindTransactionFailed, "marshal snapshot", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rankings_snapshots (captured_at, data, entry_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(captured_at) DO UPDATE SET
			data = excluded.data,
			entry_count = excluded.entry_count,
			updated_at = excluded.updated_at
	`, snap.CapturedAt.UTC(), data, snap.Count, time.Now().UTC())
	if err != nil {
		return storageErr(KindTransactionFailed, "upsert snapshot", err)
	}
	return nil
}

// LatestSnapshots returns the n most recent snapshots, newest first
func (s *Store) LatestSnapshots(ctx context.Context, n int) ([]*RankingsSnapshot, error) {
	ctx, span := startSpan(ctx, "latest_snapshots")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM rankings_snapshots
		ORDER BY captured_at DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query snapshots", err)
	}
	defer rows.Close()

	var out []*RankingsSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(KindTransactionFailed, "scan snapshot", err)
		}
		snap := &RankingsSnapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return nil, storageErr(KindTransactionFailed, "unmarshal snapshot", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(KindTransactionFailed, "iterate snapshots", err)
	}
	return out, nil
}

// AddWatch records watchlist membership for a prospect; re-adding an
// existing entry keeps the original AddedAt
func (s *Store) AddWatch(ctx context.Context, prospectID string) error {
	ctx, span := startSpan(ctx, "add_watch")
	defer span.End()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (prospect_id, added_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(prospect_id) DO UPDATE SET
			updated_at = excluded.updated_at
	`, prospectID, now, now)
	if err != nil {
		return storageErr(KindTransactionFailed, "upsert watchlist entry", err)
	}
	return nil
}

// RemoveWatch removes watchlist membership; removing an absent entry is not
// an error
func (s *Store) RemoveWatch(ctx context.Context, prospectID string) error {
	ctx, span := startSpan(ctx, "remove_watch")
	defer span.End()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist WHERE prospect_id = ?`, prospectID); err != nil {
		return storageErr(KindTransactionFailed, "delete watchlist entry", err)
	}
	return nil
}

// IsWatched reports watchlist membership
func (s *Store) IsWatched(ctx context.Context, prospectID string) (bool, error) {
	ctx, span := startSpan(ctx, "is_watched")
	defer span.End()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM watchlist WHERE prospect_id = ?`, prospectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(KindTransactionFailed, "query watchlist entry", err)
	}
	return true, nil
}

// ListWatches returns all watchlist entries, most recently added first
func (s *Store) ListWatches(ctx context.Context) ([]*WatchlistEntry, error) {
	ctx, span := startSpan(ctx, "list_watches")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT prospect_id, added_at FROM watchlist ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query watchlist", err)
	}
	defer rows.Close()

	var out []*WatchlistEntry
	for rows.Next() {
		entry := &WatchlistEntry{}
		if err := rows.Scan(&entry.ProspectID, &entry.AddedAt); err != nil {
			return nil, storageErr(KindTransactionFailed, "scan watchlist entry", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(KindTransactionFailed, "iterate watchlist", err)
	}
	return out, nil
}

// PutComparison stores a saved comparison by generated id
func (s *Store) PutComparison(ctx context.Context, c *Comparison) error {
	ctx, span := startSpan(ctx, "put_comparison")
	defer span.End()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return storageErr(KindTransactionFailed, "marshal comparison", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comparisons (id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, c.ID, data, c.CreatedAt, time.Now().UTC())
	if err != nil {
		return storageErr(KindTransactionFailed, "upsert comparison", err)
	}
	return nil
}

// RecentComparisons returns the n most recently created comparisons
func (s *Store) RecentComparisons(ctx context.Context, n int) ([]*Comparison, error) {
	ctx, span := startSpan(ctx, "recent_comparisons")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM comparisons ORDER BY created_at DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query comparisons", err)
	}
	defer rows.Close()

	var out []*Comparison
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(KindTransactionFailed, "scan comparison", err)
		}
		c := &Comparison{}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, storageErr(KindTransactionFailed, "unmarshal comparison", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(KindTransactionFailed, "iterate comparisons", err)
	}
	return out, nil
}

// PutPreference upserts a user preference value
func (s *Store) PutPreference(ctx context.Context, key string, value json.RawMessage) error {
	ctx, span := startSpan(ctx, "put_preference")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, []byte(value), time.Now().UTC())
	if err != nil {
		return storageErr(KindTransactionFailed, "upsert preference", err)
	}
	return nil
}

// GetPreference retrieves a preference value; absence is (nil, nil)
func (s *Store) GetPreference(ctx context.Context, key string) (json.RawMessage, error) {
	ctx, span := startSpan(ctx, "get_preference")
	defer span.End()

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query preference", err)
	}
	return json.RawMessage(value), nil
}
