package service

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/domain"
	"github.com/foxminchan/BookWorm-sub002/internal/outbox"
	"github.com/foxminchan/BookWorm-sub002/internal/projection"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.EnsureSchema(ctx, pool))
	return pool
}

func newService(t *testing.T) (*OrderService, *pgxpool.Pool) {
	pool := testPool(t)
	return NewOrderService(pool, outbox.NewPGStore(pool), projection.NewPGStore()), pool
}

func outboxRows(t *testing.T, pool *pgxpool.Pool, orderID uuid.UUID) []string {
	t.Helper()
	rows, err := pool.Query(context.Background(), `
		SELECT event_type FROM outbox_entries WHERE aggregate_id = $1 ORDER BY last_seq
	`, orderID)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var et string
		require.NoError(t, rows.Scan(&et))
		types = append(types, et)
	}
	require.NoError(t, rows.Err())
	return types
}

func TestPlaceOrderCommitsOrderAndOutboxAtomically(t *testing.T) {
	svc, pool := newService(t)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, "buyer-1", []domain.LineItem{
		{BookID: "A", Quantity: 2, UnitPrice: 10.00},
		{BookID: "B", Quantity: 1, UnitPrice: 5.00},
	})
	require.NoError(t, err)
	assert.Equal(t, 25.00, order.TotalPrice)
	assert.Equal(t, domain.StatusNew, order.Status)

	loaded, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Len(t, loaded.Items, 2)

	assert.Equal(t, []string{domain.EventOrderPlaced}, outboxRows(t, pool, order.ID))
}

func TestPlaceOrderValidationLeavesNoTrace(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.PlaceOrder(context.Background(), "buyer-1", []domain.LineItem{
		{BookID: "A", Quantity: 0, UnitPrice: 10.00},
	})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestCompleteOrderAppendsSequencedEvent(t *testing.T) {
	svc, pool := newService(t)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, "buyer-1", []domain.LineItem{{BookID: "A", Quantity: 1, UnitPrice: 9.99}})
	require.NoError(t, err)

	completed, err := svc.CompleteOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.Equal(t, int64(2), completed.Version)

	assert.Equal(t, []string{domain.EventOrderPlaced, domain.EventOrderCompleted}, outboxRows(t, pool, order.ID))
}

func TestStaleWriterGetsConcurrencyConflict(t *testing.T) {
	svc, pool := newService(t)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, "buyer-1", []domain.LineItem{{BookID: "A", Quantity: 1, UnitPrice: 5}})
	require.NoError(t, err)

	// Another handler commits first.
	_, err = svc.CompleteOrder(ctx, order.ID)
	require.NoError(t, err)

	// This handler still holds the stale in-memory aggregate at version 1.
	order.MarkAsCanceled()
	err = svc.saveOrder(ctx, pool, order)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestTransitionOnMissingOrder(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.CompleteOrder(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckoutTriggerCreatesSummary(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	orderID := uuid.New()

	require.NoError(t, svc.ApplyCheckoutCompleted(ctx, orderID, 99.99))

	sum, err := svc.GetSummary(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, sum.Status)
	assert.Equal(t, 99.99, sum.TotalPrice)
	assert.Equal(t, int64(0), sum.LastSeq)

	// Replaying the trigger is harmless.
	require.NoError(t, svc.ApplyCheckoutCompleted(ctx, orderID, 99.99))
	again, err := svc.GetSummary(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, sum.TotalPrice, again.TotalPrice)
}

func TestCheckoutTriggerRejectsNegativeTotal(t *testing.T) {
	svc, _ := newService(t)

	err := svc.ApplyCheckoutCompleted(context.Background(), uuid.New(), -1)
	require.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestGetSummaryMissing(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.GetSummary(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
