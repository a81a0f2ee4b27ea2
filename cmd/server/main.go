package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/foxminchan/BookWorm-sub002/internal/config"
	"github.com/foxminchan/BookWorm-sub002/internal/consumer"
	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/outbox"
	"github.com/foxminchan/BookWorm-sub002/internal/projection"
	"github.com/foxminchan/BookWorm-sub002/internal/relay"
	"github.com/foxminchan/BookWorm-sub002/internal/service"
	"github.com/foxminchan/BookWorm-sub002/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Unable to load config: %v", err)
	}
	setupLogging(cfg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logrus.Fatalf("Unable to ensure schema: %v", err)
	}
	logrus.Info("Connected to PostgreSQL")

	summaries := projection.NewPGStore()
	outboxStore := outbox.NewPGStore(pool)
	orderService := service.NewOrderService(pool, outboxStore, summaries)
	projector := consumer.NewProjector(pool, summaries)

	publisher, err := newPublisher(cfg, projector)
	if err != nil {
		logrus.Fatalf("Unable to create publisher: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.RelayInstances; i++ {
		r := relay.New(outboxStore, publisher, relay.Options{
			Interval:  cfg.RelayInterval,
			BatchSize: cfg.RelayBatchSize,
			LockTTL:   cfg.RelayLockTTL,
		})
		g.Go(func() error { return r.Run(ctx) })
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(orderService),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logrus.Infof("Server starting on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Fatalf("Server failed: %v", err)
	}
	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// newPublisher selects the transport. With the in-memory bus, delivered
// messages go straight to the projector in-process.
func newPublisher(cfg config.Config, projector *consumer.Projector) (transport.Publisher, error) {
	switch cfg.Broker {
	case "rabbitmq":
		return transport.NewRabbitMQPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	case "kafka":
		return transport.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return transport.NewInMemoryBus(projector.Handle), nil
	}
}
