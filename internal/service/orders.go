package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/domain"
	"github.com/foxminchan/BookWorm-sub002/internal/outbox"
	"github.com/foxminchan/BookWorm-sub002/internal/projection"
)

// OrderService executes order commands. Every mutation saves the aggregate
// and appends its events to the outbox in one transaction, so a committed
// command implies a durably queued event.
type OrderService struct {
	pool      *pgxpool.Pool
	outbox    *outbox.PGStore
	summaries *projection.PGStore
	log       *logrus.Entry
}

func NewOrderService(pool *pgxpool.Pool, ob *outbox.PGStore, summaries *projection.PGStore) *OrderService {
	return &OrderService{
		pool:      pool,
		outbox:    ob,
		summaries: summaries,
		log:       logrus.WithField("component", "orders"),
	}
}

// PlaceOrder creates a new order from a checkout. The caller sees success
// only after both the order row and its OrderPlaced outbox entry committed.
func (s *OrderService) PlaceOrder(ctx context.Context, buyerID string, items []domain.LineItem) (*domain.Order, error) {
	order, events, err := domain.NewOrder(buyerID, items)
	if err != nil {
		return nil, err
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal line items: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, items, total_price, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.BuyerID, string(itemsJSON), order.TotalPrice, order.Status, order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	if _, err := s.outbox.Append(ctx, tx, events); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	order.DrainPending()

	s.log.WithFields(logrus.Fields{"order_id": order.ID, "total": order.TotalPrice}).Info("order placed")
	return order, nil
}

// CompleteOrder transitions the order to Completed.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.transition(ctx, orderID, (*domain.Order).MarkAsCompleted)
}

// CancelOrder transitions the order to Cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.transition(ctx, orderID, (*domain.Order).MarkAsCanceled)
}

// transition runs load-mutate-save in one transaction. A concurrent writer
// surfaces as ErrConcurrencyConflict; callers retry from a fresh read.
func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, mutate func(*domain.Order) []domain.Event) (*domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.getOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	events := mutate(order)

	if err := s.saveOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if _, err := s.outbox.Append(ctx, tx, events); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	order.DrainPending()
	order.Version++

	s.log.WithFields(logrus.Fields{"order_id": order.ID, "status": order.Status}).Info("order transitioned")
	return order, nil
}

// GetOrder loads the aggregate by id.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.getOrder(ctx, s.pool, orderID)
}

// GetSummary queries the read model.
func (s *OrderService) GetSummary(ctx context.Context, orderID uuid.UUID) (*projection.OrderSummary, error) {
	sum, err := s.summaries.Get(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, fmt.Errorf("summary for order %s: %w", orderID, domain.ErrNotFound)
	}
	return sum, nil
}

// ApplyCheckoutCompleted bridges the basket service's checkout-completion
// signal into the read model. It does not touch the aggregate: the trigger
// is projected exactly as an OrderPlaced event would be.
func (s *OrderService) ApplyCheckoutCompleted(ctx context.Context, orderID uuid.UUID, totalPrice float64) error {
	if totalPrice < 0 {
		return fmt.Errorf("%w: checkout total %.2f", domain.ErrInvalidPrice, totalPrice)
	}
	if err := s.summaries.UpsertCheckout(ctx, s.pool, orderID, totalPrice); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "total": totalPrice}).Info("checkout trigger projected")
	return nil
}

func (s *OrderService) getOrder(ctx context.Context, q db.Querier, orderID uuid.UUID) (*domain.Order, error) {
	var (
		order     domain.Order
		itemsJSON []byte
	)
	err := q.QueryRow(ctx, `
		SELECT id, buyer_id, items, total_price, status, version, created_at, updated_at
		FROM orders WHERE id = $1
	`, orderID).Scan(&order.ID, &order.BuyerID, &itemsJSON, &order.TotalPrice,
		&order.Status, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
	}
	return &order, nil
}

// saveOrder persists a mutation guarded by the optimistic version token.
// The conditional update is evaluated against the current row, so of two
// concurrent writers exactly one sees zero rows affected and fails cleanly.
func (s *OrderService) saveOrder(ctx context.Context, q db.Querier, order *domain.Order) error {
	tag, err := q.Exec(ctx, `
		UPDATE orders
		SET status = $2, total_price = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $5
	`, order.ID, order.Status, order.TotalPrice, order.UpdatedAt, order.Version)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s at version %d: %w", order.ID, order.Version, domain.ErrConcurrencyConflict)
	}
	return nil
}
