package transport

import "context"

// Message is the unit handed to a broker by the relay. ID is the outbox
// entry id and doubles as the consumer-side idempotency key; Seq is the
// per-aggregate sequence number for ordered delivery.
type Message struct {
	ID          string
	Topic       string
	AggregateID string
	Seq         int64
	Payload     []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
