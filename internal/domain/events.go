package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderCompleted = "OrderCompleted"
	EventOrderCancelled = "OrderCancelled"
)

// Event is an immutable fact produced by the Order aggregate. Every event
// carries a self-sufficient snapshot for projections: the order id, the
// status after the transition and the total price at that moment.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
}

type OrderPlaced struct {
	OrderID    uuid.UUID `json:"order_id"`
	Status     Status    `json:"status"`
	TotalPrice float64   `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderPlaced) EventType() string      { return EventOrderPlaced }
func (e OrderPlaced) AggregateID() uuid.UUID { return e.OrderID }

type OrderCompleted struct {
	OrderID    uuid.UUID `json:"order_id"`
	Status     Status    `json:"status"`
	TotalPrice float64   `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderCompleted) EventType() string      { return EventOrderCompleted }
func (e OrderCompleted) AggregateID() uuid.UUID { return e.OrderID }

type OrderCancelled struct {
	OrderID    uuid.UUID `json:"order_id"`
	Status     Status    `json:"status"`
	TotalPrice float64   `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OrderCancelled) EventType() string      { return EventOrderCancelled }
func (e OrderCancelled) AggregateID() uuid.UUID { return e.OrderID }

// wireEvent is the serialized form stored in the outbox payload column and
// published to the broker. The event_type field doubles as the dispatch
// discriminator; seq carries the per-aggregate sequence number assigned at
// outbox insert time.
type wireEvent struct {
	EventType  string    `json:"event_type"`
	OrderID    uuid.UUID `json:"order_id"`
	Status     Status    `json:"status"`
	TotalPrice float64   `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
	Seq        int64     `json:"seq,omitempty"`
}

// EncodeEvent serializes an event together with its outbox sequence number.
func EncodeEvent(e Event, seq int64) ([]byte, error) {
	w := wireEvent{EventType: e.EventType(), Seq: seq}
	switch ev := e.(type) {
	case OrderPlaced:
		w.OrderID, w.Status, w.TotalPrice, w.OccurredAt = ev.OrderID, ev.Status, ev.TotalPrice, ev.OccurredAt
	case OrderCompleted:
		w.OrderID, w.Status, w.TotalPrice, w.OccurredAt = ev.OrderID, ev.Status, ev.TotalPrice, ev.OccurredAt
	case OrderCancelled:
		w.OrderID, w.Status, w.TotalPrice, w.OccurredAt = ev.OrderID, ev.Status, ev.TotalPrice, ev.OccurredAt
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}

	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", w.EventType, err)
	}
	return b, nil
}

// DecodeEvent parses a serialized event payload back into its typed form and
// the sequence number it was published with.
func DecodeEvent(payload []byte) (Event, int64, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}

	switch w.EventType {
	case EventOrderPlaced:
		return OrderPlaced{OrderID: w.OrderID, Status: w.Status, TotalPrice: w.TotalPrice, OccurredAt: w.OccurredAt}, w.Seq, nil
	case EventOrderCompleted:
		return OrderCompleted{OrderID: w.OrderID, Status: w.Status, TotalPrice: w.TotalPrice, OccurredAt: w.OccurredAt}, w.Seq, nil
	case EventOrderCancelled:
		return OrderCancelled{OrderID: w.OrderID, Status: w.Status, TotalPrice: w.TotalPrice, OccurredAt: w.OccurredAt}, w.Seq, nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownEventType, w.EventType)
	}
}
