package relay

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foxminchan/BookWorm-sub002/internal/outbox"
	"github.com/foxminchan/BookWorm-sub002/internal/transport"
)

type Options struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

const defaultOpTimeout = 5 * time.Second

// Relay claims batches of undelivered outbox entries and forwards them to
// the transport. Multiple instances may run concurrently; the outbox row's
// conditional update is the only coordination between them. Errors here are
// absorbed and retried on a later pass, never surfaced to command callers.
type Relay struct {
	store     outbox.Store
	publisher transport.Publisher
	id        uuid.UUID

	interval  time.Duration
	batchSize int
	lockTTL   time.Duration
	opTimeout time.Duration

	log *logrus.Entry
}

func New(store outbox.Store, publisher transport.Publisher, opts Options) *Relay {
	id := uuid.New()
	// Half the lock TTL so a timed-out call still leaves room to release
	// the claim before another instance can reclaim it.
	opTimeout := opts.LockTTL / 2
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		id:        id,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		lockTTL:   opts.LockTTL,
		opTimeout: opTimeout,
		log:       logrus.WithField("relay_id", id),
	}
}

func (r *Relay) ID() uuid.UUID { return r.id }

// Run polls the outbox on a fixed interval until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.log.WithFields(logrus.Fields{
		"interval": r.interval,
		"batch":    r.batchSize,
		"lock_ttl": r.lockTTL,
	}).Info("relay started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single claim-publish-mark pass and returns the number
// of entries marked delivered.
func (r *Relay) RunOnce(ctx context.Context) int {
	claimed, err := r.store.Claim(ctx, r.id, r.batchSize, r.lockTTL)
	if err != nil {
		r.log.WithError(err).Error("failed to claim outbox entries")
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}

	delivered := 0
	for _, group := range groupByAggregate(claimed) {
		delivered += r.publishGroup(ctx, group)
	}
	return delivered
}

// publishGroup delivers one aggregate's entries in ascending sequence order.
// The first publish failure stops the chain and releases the rest of the
// group, because delivering a later entry before an earlier one would break
// per-aggregate ordering. Every blocking call is bounded by opTimeout so a
// wedged broker or store cannot stall the poll loop past the lock TTL.
func (r *Relay) publishGroup(ctx context.Context, group []outbox.Entry) int {
	delivered := 0
	for i, entry := range group {
		msg := transport.Message{
			ID:          entry.ID.String(),
			Topic:       entry.EventType,
			AggregateID: entry.AggregateID.String(),
			Seq:         entry.Seq(),
			Payload:     entry.Payload,
		}
		if err := r.publish(ctx, msg); err != nil {
			r.log.WithError(err).WithField("entry_id", entry.ID).Warn("publish failed, releasing group for retry")
			r.releaseFrom(ctx, group[i:])
			return delivered
		}
		if err := r.markDelivered(ctx, entry.ID); err != nil {
			// Lock lost or store hiccup: the entry may be republished by a
			// later pass, which consumers tolerate. Stop the group and
			// release the rest so nothing waits out the lock TTL.
			r.log.WithError(err).WithField("entry_id", entry.ID).Warn("failed to mark entry delivered, releasing group")
			r.releaseFrom(ctx, group[i:])
			return delivered
		}
		delivered++
	}
	return delivered
}

func (r *Relay) publish(ctx context.Context, msg transport.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.publisher.Publish(ctx, msg)
}

func (r *Relay) markDelivered(ctx context.Context, entryID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.store.MarkDelivered(ctx, entryID, r.id)
}

func (r *Relay) releaseFrom(ctx context.Context, entries []outbox.Entry) {
	for _, entry := range entries {
		releaseCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		err := r.store.Release(releaseCtx, entry.ID, r.id)
		cancel()
		if err != nil {
			r.log.WithError(err).WithField("entry_id", entry.ID).Warn("failed to release entry")
		}
	}
}

func groupByAggregate(entries []outbox.Entry) map[uuid.UUID][]outbox.Entry {
	groups := make(map[uuid.UUID][]outbox.Entry)
	for _, e := range entries {
		groups[e.AggregateID] = append(groups[e.AggregateID], e)
	}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Seq() < group[j].Seq() })
	}
	return groups
}
