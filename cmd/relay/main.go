package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/foxminchan/BookWorm-sub002/internal/config"
	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/outbox"
	"github.com/foxminchan/BookWorm-sub002/internal/relay"
	"github.com/foxminchan/BookWorm-sub002/internal/transport"
)

// Standalone relay worker. Run as many instances as you like, in one
// process (RELAY_INSTANCES) or across hosts; they coordinate only through
// the outbox rows.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Unable to load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	publisher, err := newPublisher(cfg)
	if err != nil {
		logrus.Fatalf("Unable to create publisher: %v", err)
	}

	store := outbox.NewPGStore(pool)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.RelayInstances; i++ {
		r := relay.New(store, publisher, relay.Options{
			Interval:  cfg.RelayInterval,
			BatchSize: cfg.RelayBatchSize,
			LockTTL:   cfg.RelayLockTTL,
		})
		g.Go(func() error { return r.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Fatalf("Relay failed: %v", err)
	}
	logrus.Info("Relay shutdown complete")
}

func newPublisher(cfg config.Config) (transport.Publisher, error) {
	switch cfg.Broker {
	case "rabbitmq":
		return transport.NewRabbitMQPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	case "kafka":
		return transport.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("standalone relay needs a real broker, got %q", cfg.Broker)
	}
}
