package projection

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxminchan/BookWorm-sub002/internal/domain"
)

// ErrSequenceGap reports that an event arrived ahead of its aggregate's
// stream position. Gaps are a data-integrity condition to surface, not to
// skip: the consumer should leave the message for redelivery once the
// missing entries have been relayed.
var ErrSequenceGap = errors.New("sequence gap in aggregate event stream")

// OrderSummary is the denormalized read model, keyed by order id and holding
// only what queries need. LastSeq records the stream position the row has
// folded up to; 0 means the row was seeded by the cross-service checkout
// trigger and has seen no sequenced events yet.
type OrderSummary struct {
	OrderID    uuid.UUID
	Status     domain.Status
	TotalPrice float64
	LastSeq    int64
	UpdatedAt  time.Time
}

// Apply folds an event into the prior summary state. Every event payload is
// self-sufficient, so the fold is last-write-wins on status and total price.
// Pure: same inputs always produce the same output.
func Apply(prev *OrderSummary, evt domain.Event, seq int64) OrderSummary {
	next := OrderSummary{OrderID: evt.AggregateID(), LastSeq: seq}
	switch e := evt.(type) {
	case domain.OrderPlaced:
		next.Status, next.TotalPrice, next.UpdatedAt = e.Status, e.TotalPrice, e.OccurredAt
	case domain.OrderCompleted:
		next.Status, next.TotalPrice, next.UpdatedAt = e.Status, e.TotalPrice, e.OccurredAt
	case domain.OrderCancelled:
		next.Status, next.TotalPrice, next.UpdatedAt = e.Status, e.TotalPrice, e.OccurredAt
	}
	if prev != nil && prev.LastSeq > seq {
		next.LastSeq = prev.LastSeq
	}
	return next
}

// Next decides what a delivered event does to the summary: apply, skip as a
// duplicate, or fail on a sequence gap. skip=true means the event (or a
// newer one) was already folded in, which makes re-application a no-op and
// the whole pipeline safe under at-least-once delivery.
func Next(prev *OrderSummary, evt domain.Event, seq int64) (next OrderSummary, skip bool, err error) {
	if seq < 1 {
		return OrderSummary{}, false, fmt.Errorf(
			"aggregate %s: event carries non-positive sequence %d", evt.AggregateID(), seq)
	}

	var last int64
	if prev != nil {
		last = prev.LastSeq
	}

	switch {
	case seq <= last:
		return *prev, true, nil
	case seq == last+1:
		return Apply(prev, evt, seq), false, nil
	default:
		return OrderSummary{}, false, fmt.Errorf(
			"%w: aggregate %s got seq %d after %d", ErrSequenceGap, evt.AggregateID(), seq, last)
	}
}

// ApplyCheckoutCompleted folds the cross-service checkout trigger. It is
// equivalent in kind to OrderPlaced for projection purposes: first write
// creates the row with status New. A row that has already folded sequenced
// events is left untouched so a late trigger replay cannot regress it.
func ApplyCheckoutCompleted(prev *OrderSummary, orderID uuid.UUID, totalPrice float64, at time.Time) OrderSummary {
	if prev != nil && prev.LastSeq > 0 {
		return *prev
	}
	return OrderSummary{
		OrderID:    orderID,
		Status:     domain.StatusNew,
		TotalPrice: totalPrice,
		LastSeq:    0,
		UpdatedAt:  at,
	}
}
