package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockLost is returned when a relay tries to act on an entry whose lock
// it no longer holds, typically because the claim expired and another
// instance reclaimed the row.
var ErrLockLost = errors.New("outbox lock no longer held")

// Entry is one domain event persisted for delivery. Entries are written in
// the same transaction as the aggregate state they describe and are never
// deleted once delivered; delivered_at doubles as the idempotence record.
type Entry struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	LastSeq     *int64
	LockID      *uuid.UUID
	LockedAt    *time.Time
	RowVersion  int64
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// Seq returns the per-aggregate sequence number, or 0 for unsequenced entries.
func (e Entry) Seq() int64 {
	if e.LastSeq == nil {
		return 0
	}
	return *e.LastSeq
}

// Store is the claim/deliver surface the relay runs against. Claim must be
// safe under concurrent relay instances: an entry is handed to at most one
// live claimant, and a claim older than the lock TTL counts as expired.
type Store interface {
	Claim(ctx context.Context, lockID uuid.UUID, limit int, lockTTL time.Duration) ([]Entry, error)
	MarkDelivered(ctx context.Context, entryID, lockID uuid.UUID) error
	Release(ctx context.Context, entryID, lockID uuid.UUID) error
}
