package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNew       Status = "NEW"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

type LineItem struct {
	BookID    string  `json:"book_id"`
	Quantity  int32   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (i LineItem) Subtotal() float64 { return float64(i.Quantity) * i.UnitPrice }

// Order is the aggregate root. Line items are fixed at creation; the only
// mutations after that are the status transitions below. Version is the
// optimistic concurrency token bumped by the persistence layer on every save.
type Order struct {
	ID         uuid.UUID
	BuyerID    string
	Items      []LineItem
	TotalPrice float64
	Status     Status
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time

	pending []Event
}

// NewOrder validates the items, computes the total and returns the order in
// status New along with the OrderPlaced event it emitted. The event is also
// buffered on the aggregate for the persistence layer to drain after a
// successful save.
func NewOrder(buyerID string, items []LineItem) (*Order, []Event, error) {
	if buyerID == "" {
		return nil, nil, ErrMissingBuyer
	}
	if len(items) == 0 {
		return nil, nil, ErrEmptyOrder
	}

	var total float64
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: book %s has quantity %d", ErrInvalidQuantity, item.BookID, item.Quantity)
		}
		if item.UnitPrice < 0 {
			return nil, nil, fmt.Errorf("%w: book %s has price %.2f", ErrInvalidPrice, item.BookID, item.UnitPrice)
		}
		total += item.Subtotal()
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate order id: %w", err)
	}

	now := time.Now().UTC()
	o := &Order{
		ID:         id,
		BuyerID:    buyerID,
		Items:      items,
		TotalPrice: total,
		Status:     StatusNew,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	events := o.raise(OrderPlaced{OrderID: o.ID, Status: o.Status, TotalPrice: o.TotalPrice, OccurredAt: now})
	return o, events, nil
}

// MarkAsCompleted transitions the order to Completed. The transition is
// deliberately permitted from any status, including re-completion, so a
// retried completion command stays a harmless no-op downstream.
func (o *Order) MarkAsCompleted() []Event {
	now := time.Now().UTC()
	o.Status = StatusCompleted
	o.UpdatedAt = now
	return o.raise(OrderCompleted{OrderID: o.ID, Status: o.Status, TotalPrice: o.TotalPrice, OccurredAt: now})
}

// MarkAsCanceled transitions the order to Cancelled, permitted from any
// status like MarkAsCompleted.
func (o *Order) MarkAsCanceled() []Event {
	now := time.Now().UTC()
	o.Status = StatusCancelled
	o.UpdatedAt = now
	return o.raise(OrderCancelled{OrderID: o.ID, Status: o.Status, TotalPrice: o.TotalPrice, OccurredAt: now})
}

func (o *Order) raise(e Event) []Event {
	o.pending = append(o.pending, e)
	return []Event{e}
}

// DrainPending returns the buffered events and clears the buffer. Called by
// the persistence layer once the transaction that saved them has committed.
func (o *Order) DrainPending() []Event {
	p := o.pending
	o.pending = nil
	return p
}
