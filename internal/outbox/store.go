package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/domain"
)

// PGStore persists outbox entries in Postgres. Claiming uses a per-row
// compare-and-swap on row_version rather than row locks, so the same
// primitive works on any store with conditional updates.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Append inserts one entry per event inside the caller's transaction,
// assigning each a per-aggregate sequence number. Writers to one aggregate
// are serialized by the order row's optimistic version, so the MAX subquery
// cannot race against another appender for the same aggregate.
func (s *PGStore) Append(ctx context.Context, q db.Querier, events []domain.Event) ([]Entry, error) {
	entries := make([]Entry, 0, len(events))
	for _, event := range events {
		var seq int64
		err := q.QueryRow(ctx, `
			SELECT COALESCE(MAX(last_seq), 0) + 1 FROM outbox_entries WHERE aggregate_id = $1
		`, event.AggregateID()).Scan(&seq)
		if err != nil {
			return nil, fmt.Errorf("failed to assign sequence for aggregate %s: %w", event.AggregateID(), err)
		}

		payload, err := domain.EncodeEvent(event, seq)
		if err != nil {
			return nil, err
		}

		entry := Entry{
			ID:          uuid.New(),
			AggregateID: event.AggregateID(),
			EventType:   event.EventType(),
			Payload:     payload,
			LastSeq:     &seq,
			CreatedAt:   time.Now().UTC(),
		}
		_, err = q.Exec(ctx, `
			INSERT INTO outbox_entries (id, aggregate_id, event_type, payload, last_seq, row_version, created_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6)
		`, entry.ID, entry.AggregateID, entry.EventType, string(entry.Payload), seq, entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Claim selects up to limit undelivered entries whose lock is absent or
// expired, then claims each with a conditional update. A concurrent claimant
// racing on the same row loses the CAS (zero rows affected) and the row is
// simply skipped; it will be picked up again on a later pass.
func (s *PGStore) Claim(ctx context.Context, lockID uuid.UUID, limit int, lockTTL time.Duration) ([]Entry, error) {
	// The NOT EXISTS clause keeps one aggregate's chain with a single
	// claimant: while another live instance holds an earlier entry of the
	// same aggregate, its later entries are not claimable.
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, last_seq, row_version, created_at
		FROM outbox_entries o
		WHERE o.delivered_at IS NULL
		  AND (o.lock_id IS NULL OR o.locked_at < now() - make_interval(secs => $1))
		  AND NOT EXISTS (
			SELECT 1 FROM outbox_entries prior
			WHERE prior.aggregate_id = o.aggregate_id
			  AND prior.delivered_at IS NULL
			  AND prior.last_seq < o.last_seq
			  AND prior.lock_id IS NOT NULL
			  AND prior.locked_at >= now() - make_interval(secs => $1)
		  )
		ORDER BY o.created_at ASC, o.last_seq ASC
		LIMIT $2
	`, lockTTL.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch claimable entries: %w", err)
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.LastSeq, &e.RowVersion, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimable entries: %w", err)
	}

	now := time.Now().UTC()
	claimed := make([]Entry, 0, len(candidates))
	blocked := make(map[uuid.UUID]bool)
	for _, e := range candidates {
		// Losing an earlier entry of this aggregate to another instance
		// means claiming a later one would deliver out of order.
		if blocked[e.AggregateID] {
			continue
		}
		tag, err := s.pool.Exec(ctx, `
			UPDATE outbox_entries
			SET lock_id = $1, locked_at = $2, row_version = row_version + 1
			WHERE id = $3 AND row_version = $4 AND delivered_at IS NULL
		`, lockID, now, e.ID, e.RowVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to claim entry %s: %w", e.ID, err)
		}
		if tag.RowsAffected() == 0 {
			blocked[e.AggregateID] = true // lost the race to another relay instance
			continue
		}
		e.LockID = &lockID
		e.LockedAt = &now
		e.RowVersion++
		claimed = append(claimed, e)
	}
	return claimed, nil
}

// MarkDelivered stamps the entry as delivered iff the caller still holds its
// lock. A delivered entry is never returned by Claim again.
func (s *PGStore) MarkDelivered(ctx context.Context, entryID, lockID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries
		SET delivered_at = now(), row_version = row_version + 1
		WHERE id = $1 AND lock_id = $2 AND delivered_at IS NULL
	`, entryID, lockID)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s delivered: %w", entryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entry %s: %w", entryID, ErrLockLost)
	}
	return nil
}

// Release clears the lock so a future pass can retry the entry.
func (s *PGStore) Release(ctx context.Context, entryID, lockID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_entries
		SET lock_id = NULL, locked_at = NULL, row_version = row_version + 1
		WHERE id = $1 AND lock_id = $2
	`, entryID, lockID)
	if err != nil {
		return fmt.Errorf("failed to release entry %s: %w", entryID, err)
	}
	return nil
}

// Undelivered counts the current backlog. Exposed for observability and tests.
func (s *PGStore) Undelivered(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_entries WHERE delivered_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count undelivered entries: %w", err)
	}
	return n, nil
}
