package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxminchan/BookWorm-sub002/internal/domain"
)

func placeOrder(t *testing.T) (*domain.Order, []domain.Event) {
	t.Helper()
	order, events, err := domain.NewOrder("buyer-1", []domain.LineItem{
		{BookID: "A", Quantity: 2, UnitPrice: 10.00},
		{BookID: "B", Quantity: 1, UnitPrice: 5.00},
	})
	require.NoError(t, err)
	return order, events
}

func TestAppendAssignsSequencePerAggregate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	order, events := placeOrder(t)
	events = append(events, order.MarkAsCompleted()...)

	other, otherEvents := placeOrder(t)

	entries, err := store.Append(ctx, events)
	require.NoError(t, err)
	otherEntries, err := store.Append(ctx, otherEvents)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq())
	assert.Equal(t, int64(2), entries[1].Seq())

	// Sequences are per aggregate, not global.
	require.Len(t, otherEntries, 1)
	assert.Equal(t, int64(1), otherEntries[0].Seq())
	assert.Equal(t, other.ID, otherEntries[0].AggregateID)
}

func TestClaimBreaksTimestampTiesBySequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	// Both entries of one append share a creation timestamp, as they do in
	// Postgres at TIMESTAMPTZ resolution.
	fixed := time.Now().UTC()
	store.now = func() time.Time { return fixed }

	order, events := placeOrder(t)
	events = append(events, order.MarkAsCompleted()...)
	_, err := store.Append(ctx, events)
	require.NoError(t, err)

	// Simulate an arbitrary tie-break by reversing the scan order.
	store.order[0], store.order[1] = store.order[1], store.order[0]

	claimed, err := store.Claim(ctx, uuid.New(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, int64(1), claimed[0].Seq())
}

func TestClaimSkipsDeliveredEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	_, events := placeOrder(t)
	entries, err := store.Append(ctx, events)
	require.NoError(t, err)

	relay := uuid.New()
	claimed, err := store.Claim(ctx, relay, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.MarkDelivered(ctx, entries[0].ID, relay))

	// Once delivered_at is set the entry is never claimable again.
	claimed, err = store.Claim(ctx, uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimIsExclusiveWhileLockIsLive(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	_, events := placeOrder(t)
	_, err := store.Append(ctx, events)
	require.NoError(t, err)

	first, err := store.Claim(ctx, uuid.New(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.Claim(ctx, uuid.New(), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestConcurrentClaimsWinExactlyOnce(t *testing.T) {
	ctx := context.Background()

	// Repeat to give the race a chance to interleave both ways.
	for i := 0; i < 50; i++ {
		store := NewMemStore()
		_, events := placeOrder(t)
		_, err := store.Append(ctx, events)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]int, 2)
		for n := 0; n < 2; n++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				claimed, err := store.Claim(ctx, uuid.New(), 10, time.Minute)
				assert.NoError(t, err)
				results[n] = len(claimed)
			}(n)
		}
		wg.Wait()

		assert.Equal(t, 1, results[0]+results[1], "exactly one claimant must win")
	}
}

func TestExpiredLockIsReclaimable(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	_, events := placeOrder(t)
	_, err := store.Append(ctx, events)
	require.NoError(t, err)

	// First relay claims and then "crashes" without publishing.
	crashed := uuid.New()
	claimed, err := store.Claim(ctx, crashed, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Move the clock past the lock TTL.
	base := time.Now().UTC()
	store.now = func() time.Time { return base.Add(2 * time.Minute) }

	second := uuid.New()
	reclaimed, err := store.Claim(ctx, second, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, claimed[0].ID, reclaimed[0].ID)

	// The crashed relay no longer holds the lock and cannot mark delivery.
	err = store.MarkDelivered(ctx, claimed[0].ID, crashed)
	require.ErrorIs(t, err, ErrLockLost)

	require.NoError(t, store.MarkDelivered(ctx, reclaimed[0].ID, second))
}

func TestReleaseMakesEntryClaimableAgain(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	_, events := placeOrder(t)
	entries, err := store.Append(ctx, events)
	require.NoError(t, err)

	relay := uuid.New()
	claimed, err := store.Claim(ctx, relay, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Release(ctx, entries[0].ID, relay))

	reclaimed, err := store.Claim(ctx, uuid.New(), 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, reclaimed, 1)
}
