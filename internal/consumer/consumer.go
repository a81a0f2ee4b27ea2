package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/foxminchan/BookWorm-sub002/internal/domain"
	"github.com/foxminchan/BookWorm-sub002/internal/projection"
)

// ErrBadPayload marks a message that can never be processed no matter how
// often it is redelivered: unparseable JSON, an unknown event type, or a
// missing sequence number. Callers should ack (or dead-letter) instead of
// requeueing.
var ErrBadPayload = errors.New("malformed event payload")

// Retryable reports whether the consumer error is worth a redelivery.
// Sequence gaps are retryable: the missing entry is usually an outbox row
// the relay has not forwarded yet.
func Retryable(err error) bool {
	return !errors.Is(err, ErrBadPayload)
}

// Projector folds delivered events into the order summary read model with
// exactly-once effect: the dedupe check, the fold and the processed-message
// record all commit in one transaction.
type Projector struct {
	pool      *pgxpool.Pool
	summaries *projection.PGStore
	log       *logrus.Entry
}

func NewProjector(pool *pgxpool.Pool, summaries *projection.PGStore) *Projector {
	return &Projector{
		pool:      pool,
		summaries: summaries,
		log:       logrus.WithField("component", "projector"),
	}
}

// Handle processes one delivered message. messageID is the outbox entry id
// and is the idempotency key; a message seen before is acknowledged without
// effect. Returning nil acknowledges the message.
func (p *Projector) Handle(ctx context.Context, messageID string, payload []byte) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var seen bool
	err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1)`, messageID).Scan(&seen)
	if err != nil {
		return fmt.Errorf("failed to check idempotency: %w", err)
	}
	if seen {
		p.log.WithField("message_id", messageID).Debug("skipping duplicate message")
		return nil
	}

	evt, seq, err := domain.DecodeEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if seq < 1 {
		return fmt.Errorf("%w: missing sequence number", ErrBadPayload)
	}

	prev, err := p.summaries.Get(ctx, tx, evt.AggregateID())
	if err != nil {
		return err
	}

	next, skip, err := projection.Next(prev, evt, seq)
	if err != nil {
		return err
	}
	if !skip {
		if err := p.summaries.Upsert(ctx, tx, next); err != nil {
			return err
		}
	} else {
		p.log.WithFields(logrus.Fields{
			"message_id": messageID,
			"order_id":   evt.AggregateID(),
			"seq":        seq,
		}).Debug("event already folded into summary, recording as processed")
	}

	_, err = tx.Exec(ctx, `INSERT INTO processed_messages (message_id, processed_at) VALUES ($1, $2)`,
		messageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record processed message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"message_id": messageID,
		"event_type": evt.EventType(),
		"order_id":   evt.AggregateID(),
	}).Info("projected event")
	return nil
}
