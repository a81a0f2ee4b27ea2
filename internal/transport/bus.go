package transport

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Handler consumes a delivered message identified by the outbox entry id.
type Handler func(ctx context.Context, messageID string, payload []byte) error

// InMemoryBus simulates a message broker by delivering straight to the
// consumer in-process. Used when no broker is configured.
type InMemoryBus struct {
	handler Handler
}

func NewInMemoryBus(handler Handler) *InMemoryBus {
	return &InMemoryBus{handler: handler}
}

// Publish implements the Publisher interface.
func (b *InMemoryBus) Publish(ctx context.Context, msg Message) error {
	logrus.WithField("message_id", msg.ID).Debug("relaying message directly to consumer")
	return b.handler(ctx, msg.ID, msg.Payload)
}
