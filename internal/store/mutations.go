package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// AppendMutation durably records a pending mutation. The write commits
// before the call returns; the caller must not acknowledge the triggering
// user action until it has.
func (s *Store) AppendMutation(ctx context.Context, m *PendingMutation) error {
	ctx, span := startSpan(ctx, "append_mutation")
	defer span.End()

	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_mutations (id, type, payload, idempotency_key, retry_count, next_attempt, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, string(m.Type), []byte(m.Payload), m.IdempotencyKey, m.RetryCount, nullableTime(m.NextAttempt), m.EnqueuedAt)
	if err != nil {
		return storageErr(KindTransactionFailed, "append mutation", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return storageErr(KindTransactionFailed, "append mutation seq", err)
	}
	m.Seq = seq
	return nil
}

// PendingMutations returns the durable queue in enqueue (FIFO) order
func (s *Store) PendingMutations(ctx context.Context) ([]*PendingMutation, error) {
	ctx, span := startSpan(ctx, "pending_mutations")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, type, payload, idempotency_key, retry_count, next_attempt, enqueued_at
		FROM pending_mutations
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query pending mutations", err)
	}
	defer rows.Close()

	var out []*PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(KindTransactionFailed, "iterate pending mutations", err)
	}
	return out, nil
}

// PendingCount returns the durable queue depth
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	ctx, span := startSpan(ctx, "pending_count")
	defer span.End()

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_mutations`).Scan(&n); err != nil {
		return 0, storageErr(KindTransactionFailed, "count pending mutations", err)
	}
	return n, nil
}

// UpdateMutationRetry persists a failed delivery attempt: the bumped retry
// count and the earliest time the next attempt may run
func (s *Store) UpdateMutationRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time) error {
	ctx, span := startSpan(ctx, "update_mutation_retry")
	defer span.End()

	// The retry_count guard keeps the count monotone when two tabs race
	// to record the same failed attempt.
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_mutations
		SET retry_count = ?, next_attempt = ?
		WHERE id = ? AND retry_count < ?
	`, retryCount, nextAttempt.UTC(), id, retryCount)
	if err != nil {
		return storageErr(KindTransactionFailed, "update mutation retry", err)
	}
	return nil
}

// DeleteMutation evicts a delivered mutation from the durable queue
func (s *Store) DeleteMutation(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "delete_mutation")
	defer span.End()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return storageErr(KindTransactionFailed, "delete mutation", err)
	}
	return nil
}

// ClearPending empties the durable mutation queue
func (s *Store) ClearPending(ctx context.Context) error {
	ctx, span := startSpan(ctx, "clear_pending")
	defer span.End()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_mutations`); err != nil {
		return storageErr(KindTransactionFailed, "clear pending mutations", err)
	}
	return nil
}

// MoveToDeadLetter atomically evicts a mutation from the queue and retains
// it in the dead-letter log for inspection. When the queue row is already
// gone, for example wiped by ClearPending while the delivery was in flight,
// no dead letter is recorded.
func (s *Store) MoveToDeadLetter(ctx context.Context, m *PendingMutation, reason string) error {
	ctx, span := startSpan(ctx, "move_to_dead_letter")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(KindTransactionFailed, "begin dead letter", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE id = ?`, m.ID)
	if err != nil {
		return storageErr(KindTransactionFailed, "evict dead mutation", err)
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return storageErr(KindTransactionFailed, "evict dead mutation", err)
	}
	if evicted == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, type, payload, retry_count, reason, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, string(m.Type), []byte(m.Payload), m.RetryCount, reason, time.Now().UTC()); err != nil {
		return storageErr(KindTransactionFailed, "insert dead letter", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(KindTransactionFailed, "commit dead letter", err)
	}
	return nil
}

// DeadLetters returns permanently failed mutations, most recent first
func (s *Store) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	ctx, span := startSpan(ctx, "dead_letters")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, retry_count, reason, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC
	`)
	if err != nil {
		return nil, storageErr(KindTransactionFailed, "query dead letters", err)
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		dl := &DeadLetter{}
		var (
			typ     string
			payload []byte
		)
		if err := rows.Scan(&dl.ID, &typ, &payload, &dl.RetryCount, &dl.Reason, &dl.FailedAt); err != nil {
			return nil, storageErr(KindTransactionFailed, "scan dead letter", err)
		}
		dl.Type = MutationType(typ)
		dl.Payload = json.RawMessage(payload)
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(KindTransactionFailed, "iterate dead letters", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (*PendingMutation, error) {
	m := &PendingMutation{}
	var (
		typ         string
		payload     []byte
		nextAttempt sql.NullTime
	)
	if err := row.Scan(&m.Seq, &m.ID, &typ, &payload, &m.IdempotencyKey,
		&m.RetryCount, &nextAttempt, &m.EnqueuedAt); err != nil {
		return nil, storageErr(KindTransactionFailed, "scan mutation", err)
	}
	m.Type = MutationType(typ)
	m.Payload = json.RawMessage(payload)
	if nextAttempt.Valid {
		t := nextAttempt.Time
		m.NextAttempt = &t
	}
	return m, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
