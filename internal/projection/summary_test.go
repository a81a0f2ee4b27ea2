package projection

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxminchan/BookWorm-sub002/internal/domain"
)

func TestApplyCreatesSummaryFromPlaced(t *testing.T) {
	orderID := uuid.New()
	placed := domain.OrderPlaced{OrderID: orderID, Status: domain.StatusNew, TotalPrice: 25.00, OccurredAt: time.Now().UTC()}

	sum := Apply(nil, placed, 1)

	assert.Equal(t, orderID, sum.OrderID)
	assert.Equal(t, domain.StatusNew, sum.Status)
	assert.Equal(t, 25.00, sum.TotalPrice)
	assert.Equal(t, int64(1), sum.LastSeq)
}

func TestApplyIsIdempotent(t *testing.T) {
	orderID := uuid.New()
	evt := domain.OrderCompleted{OrderID: orderID, Status: domain.StatusCompleted, TotalPrice: 25.00, OccurredAt: time.Now().UTC()}
	prev := &OrderSummary{OrderID: orderID, Status: domain.StatusNew, TotalPrice: 25.00, LastSeq: 1}

	once := Apply(prev, evt, 2)
	twice := Apply(&once, evt, 2)

	assert.Equal(t, once, twice)
}

func TestApplyLastWriteWins(t *testing.T) {
	orderID := uuid.New()
	completed := domain.OrderCompleted{OrderID: orderID, Status: domain.StatusCompleted, TotalPrice: 25.00, OccurredAt: time.Now().UTC()}
	cancelled := domain.OrderCancelled{OrderID: orderID, Status: domain.StatusCancelled, TotalPrice: 25.00, OccurredAt: time.Now().UTC()}

	sum := Apply(nil, domain.OrderPlaced{OrderID: orderID, Status: domain.StatusNew, TotalPrice: 25.00}, 1)
	sum = Apply(&sum, completed, 2)
	assert.Equal(t, domain.StatusCompleted, sum.Status)

	// Cancelling after completion is reflected as-is; the read model mirrors
	// the aggregate's unrestricted transitions.
	sum = Apply(&sum, cancelled, 3)
	assert.Equal(t, domain.StatusCancelled, sum.Status)
	assert.Equal(t, 25.00, sum.TotalPrice)
	assert.Equal(t, int64(3), sum.LastSeq)
}

func TestNextSkipsDuplicates(t *testing.T) {
	orderID := uuid.New()
	evt := domain.OrderCompleted{OrderID: orderID, Status: domain.StatusCompleted, TotalPrice: 10.00}
	prev := &OrderSummary{OrderID: orderID, Status: domain.StatusCompleted, TotalPrice: 10.00, LastSeq: 2}

	next, skip, err := Next(prev, evt, 2)
	require.NoError(t, err)
	assert.True(t, skip)
	assert.Equal(t, *prev, next)

	// Older-than-current is skipped too.
	_, skip, err = Next(prev, evt, 1)
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestNextAppliesInOrder(t *testing.T) {
	orderID := uuid.New()
	placed := domain.OrderPlaced{OrderID: orderID, Status: domain.StatusNew, TotalPrice: 25.00}
	completed := domain.OrderCompleted{OrderID: orderID, Status: domain.StatusCompleted, TotalPrice: 25.00}

	sum, skip, err := Next(nil, placed, 1)
	require.NoError(t, err)
	require.False(t, skip)

	sum, skip, err = Next(&sum, completed, 2)
	require.NoError(t, err)
	require.False(t, skip)
	assert.Equal(t, domain.StatusCompleted, sum.Status)
	assert.Equal(t, 25.00, sum.TotalPrice)
}

func TestNextSurfacesSequenceGaps(t *testing.T) {
	orderID := uuid.New()
	completed := domain.OrderCompleted{OrderID: orderID, Status: domain.StatusCompleted, TotalPrice: 25.00}

	// No prior row but the stream starts past 1.
	_, _, err := Next(nil, completed, 2)
	require.ErrorIs(t, err, ErrSequenceGap)

	// Existing row at seq 1 receiving seq 3.
	prev := &OrderSummary{OrderID: orderID, LastSeq: 1}
	_, _, err = Next(prev, completed, 3)
	require.ErrorIs(t, err, ErrSequenceGap)
}

func TestCheckoutTriggerCreatesRow(t *testing.T) {
	orderID := uuid.New()
	at := time.Now().UTC()

	sum := ApplyCheckoutCompleted(nil, orderID, 99.99, at)

	assert.Equal(t, domain.StatusNew, sum.Status)
	assert.Equal(t, 99.99, sum.TotalPrice)
	assert.Equal(t, int64(0), sum.LastSeq)
}

func TestCheckoutTriggerDoesNotRegressSequencedRow(t *testing.T) {
	orderID := uuid.New()
	prev := &OrderSummary{OrderID: orderID, Status: domain.StatusCompleted, TotalPrice: 25.00, LastSeq: 2}

	sum := ApplyCheckoutCompleted(prev, orderID, 99.99, time.Now().UTC())

	assert.Equal(t, *prev, sum)
}

func TestCheckoutTriggerThenPlacedEvent(t *testing.T) {
	orderID := uuid.New()

	// Trigger seeds the row at seq 0; the aggregate's own stream then folds
	// on top of it without tripping the gap check.
	seeded := ApplyCheckoutCompleted(nil, orderID, 99.99, time.Now().UTC())
	placed := domain.OrderPlaced{OrderID: orderID, Status: domain.StatusNew, TotalPrice: 99.99}

	sum, skip, err := Next(&seeded, placed, 1)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, int64(1), sum.LastSeq)
}
