package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foxminchan/BookWorm-sub002/internal/config"
	"github.com/foxminchan/BookWorm-sub002/internal/consumer"
	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/domain"
	"github.com/foxminchan/BookWorm-sub002/internal/projection"
)

// Demonstrates the two layers of replay safety: the processed-message
// dedupe (same message id twice) and the sequence check (same payload under
// a fresh message id, as after a relay retry).
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Unable to load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logrus.Fatalf("Unable to ensure schema: %v", err)
	}

	projector := consumer.NewProjector(pool, projection.NewPGStore())

	orderID := uuid.New()
	placed := domain.OrderPlaced{
		OrderID:    orderID,
		Status:     domain.StatusNew,
		TotalPrice: 25.00,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := domain.EncodeEvent(placed, 1)
	if err != nil {
		logrus.Fatalf("Failed to encode event: %v", err)
	}

	msgID := uuid.NewString()

	logrus.Info("1st attempt:")
	if err := projector.Handle(ctx, msgID, payload); err != nil {
		logrus.Fatalf("First attempt failed: %v", err)
	}

	logrus.Info("2nd attempt, same message id (should be deduplicated):")
	if err := projector.Handle(ctx, msgID, payload); err != nil {
		logrus.Fatalf("Second attempt failed: %v", err)
	}

	logrus.Info("3rd attempt, fresh message id (sequence check should absorb it):")
	if err := projector.Handle(ctx, uuid.NewString(), payload); err != nil {
		logrus.Fatalf("Third attempt failed: %v", err)
	}

	sum, err := projection.NewPGStore().Get(ctx, pool, orderID)
	if err != nil {
		logrus.Fatalf("Failed to read summary: %v", err)
	}
	logrus.Infof("Summary after three deliveries: status=%s total=%.2f last_seq=%d", sum.Status, sum.TotalPrice, sum.LastSeq)
	logrus.Info("Done")
}
