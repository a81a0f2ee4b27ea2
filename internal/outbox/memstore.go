package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxminchan/BookWorm-sub002/internal/domain"
)

// MemStore is an in-memory outbox with the same claim semantics as PGStore:
// candidates are snapshotted without a lock and then claimed one at a time
// with a compare-and-swap on RowVersion, so concurrent claimants genuinely
// race and at most one wins each row. Used by tests and the replay demo.
type MemStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	order   []uuid.UUID

	now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[uuid.UUID]*Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Append mirrors PGStore.Append without a surrounding transaction.
func (s *MemStore) Append(ctx context.Context, events []domain.Event) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appended := make([]Entry, 0, len(events))
	for _, event := range events {
		seq := s.nextSeqLocked(event.AggregateID())
		payload, err := domain.EncodeEvent(event, seq)
		if err != nil {
			return nil, err
		}
		e := &Entry{
			ID:          uuid.New(),
			AggregateID: event.AggregateID(),
			EventType:   event.EventType(),
			Payload:     payload,
			LastSeq:     &seq,
			CreatedAt:   s.now(),
		}
		s.entries[e.ID] = e
		s.order = append(s.order, e.ID)
		appended = append(appended, *e)
	}
	return appended, nil
}

func (s *MemStore) nextSeqLocked(aggregateID uuid.UUID) int64 {
	var max int64
	for _, e := range s.entries {
		if e.AggregateID == aggregateID && e.Seq() > max {
			max = e.Seq()
		}
	}
	return max + 1
}

func (s *MemStore) Claim(ctx context.Context, lockID uuid.UUID, limit int, lockTTL time.Duration) ([]Entry, error) {
	candidates := s.snapshotCandidates(limit, lockTTL)

	claimed := make([]Entry, 0, len(candidates))
	blocked := make(map[uuid.UUID]bool)
	for _, c := range candidates {
		// Losing an earlier entry of this aggregate to another instance
		// means claiming a later one would deliver out of order.
		if blocked[c.AggregateID] {
			continue
		}
		if e, ok := s.claimOne(c.ID, c.RowVersion, lockID); ok {
			claimed = append(claimed, e)
		} else {
			blocked[c.AggregateID] = true
		}
	}
	return claimed, nil
}

func (s *MemStore) snapshotCandidates(limit int, lockTTL time.Duration) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-lockTTL)
	held := func(e *Entry) bool {
		return e.LockID != nil && e.LockedAt != nil && !e.LockedAt.Before(cutoff)
	}

	var out []Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.DeliveredAt != nil || held(e) {
			continue
		}
		// Mirror of the PGStore predecessor guard: while another live
		// claimant holds an earlier entry of this aggregate, its later
		// entries are not claimable.
		if s.priorHeldLocked(e, held) {
			continue
		}
		out = append(out, *e)
	}
	// Sequence breaks creation-time ties so a small limit can never hand
	// out a later entry while its predecessor falls off the batch.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq() < out[j].Seq()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemStore) priorHeldLocked(e *Entry, held func(*Entry) bool) bool {
	for _, id := range s.order {
		p := s.entries[id]
		if p.AggregateID == e.AggregateID && p.DeliveredAt == nil && p.Seq() < e.Seq() && held(p) {
			return true
		}
	}
	return false
}

// claimOne is the conditional-update primitive: it succeeds only if the row
// version still matches the snapshot the claimant saw.
func (s *MemStore) claimOne(id uuid.UUID, rowVersion int64, lockID uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.RowVersion != rowVersion || e.DeliveredAt != nil {
		return Entry{}, false
	}
	now := s.now()
	lock := lockID
	e.LockID = &lock
	e.LockedAt = &now
	e.RowVersion++
	return *e, true
}

func (s *MemStore) MarkDelivered(ctx context.Context, entryID, lockID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok || e.LockID == nil || *e.LockID != lockID || e.DeliveredAt != nil {
		return fmt.Errorf("entry %s: %w", entryID, ErrLockLost)
	}
	now := s.now()
	e.DeliveredAt = &now
	e.RowVersion++
	return nil
}

func (s *MemStore) Release(ctx context.Context, entryID, lockID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok || e.LockID == nil || *e.LockID != lockID {
		return nil
	}
	e.LockID = nil
	e.LockedAt = nil
	e.RowVersion++
	return nil
}

// Get returns a copy of the stored entry, for assertions in tests.
func (s *MemStore) Get(id uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
