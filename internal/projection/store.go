package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/domain"
)

// PGStore reads and upserts order summaries. Methods take a db.Querier so
// the consumer can run them inside its dedupe transaction.
type PGStore struct{}

func NewPGStore() *PGStore { return &PGStore{} }

// Get returns the summary for an order, or nil when no row exists yet.
func (s *PGStore) Get(ctx context.Context, q db.Querier, orderID uuid.UUID) (*OrderSummary, error) {
	var sum OrderSummary
	err := q.QueryRow(ctx, `
		SELECT order_id, status, total_price, last_seq, updated_at
		FROM order_summaries WHERE order_id = $1
	`, orderID).Scan(&sum.OrderID, &sum.Status, &sum.TotalPrice, &sum.LastSeq, &sum.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary for order %s: %w", orderID, err)
	}
	return &sum, nil
}

// Upsert writes the folded summary. Creation and mutation go through the
// same statement so the two entry points for read-model creation (locally
// raised events and the checkout trigger) can never produce two rows.
func (s *PGStore) Upsert(ctx context.Context, q db.Querier, sum OrderSummary) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_summaries (order_id, status, total_price, last_seq, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE
		SET status = EXCLUDED.status,
		    total_price = EXCLUDED.total_price,
		    last_seq = EXCLUDED.last_seq,
		    updated_at = EXCLUDED.updated_at
	`, sum.OrderID, sum.Status, sum.TotalPrice, sum.LastSeq, sum.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert summary for order %s: %w", sum.OrderID, err)
	}
	return nil
}

// UpsertCheckout applies the cross-service checkout trigger: create the row
// with status New, or refresh it only while it has seen no sequenced events
// (last_seq = 0). The guard keeps a late trigger replay from clobbering a
// summary already advanced by the aggregate's own event stream.
func (s *PGStore) UpsertCheckout(ctx context.Context, q db.Querier, orderID uuid.UUID, totalPrice float64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_summaries (order_id, status, total_price, last_seq, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (order_id) DO UPDATE
		SET status = EXCLUDED.status,
		    total_price = EXCLUDED.total_price,
		    updated_at = EXCLUDED.updated_at
		WHERE order_summaries.last_seq = 0
	`, orderID, domain.StatusNew, totalPrice, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to apply checkout trigger for order %s: %w", orderID, err)
	}
	return nil
}
