package main

import (
	"context"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/foxminchan/BookWorm-sub002/internal/config"
	"github.com/foxminchan/BookWorm-sub002/internal/consumer"
	"github.com/foxminchan/BookWorm-sub002/internal/db"
	"github.com/foxminchan/BookWorm-sub002/internal/projection"
)

// Broker-side consumer: reads delivered order events off RabbitMQ and folds
// them into the order summary read model.
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
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logrus.Fatalf("Unable to ensure schema: %v", err)
	}

	projector := consumer.NewProjector(pool, projection.NewPGStore())

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logrus.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logrus.Fatalf("Failed to open a channel: %v", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, nil); err != nil {
		logrus.Fatalf("Failed to declare queue: %v", err)
	}

	msgs, err := ch.Consume(
		cfg.RabbitQueue, // queue
		"",              // consumer
		false,           // auto-ack (we want manual ack)
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		logrus.Fatalf("Failed to register a consumer: %v", err)
	}

	go func() {
		for d := range msgs {
			log := logrus.WithField("message_id", d.MessageId)

			err := projector.Handle(ctx, d.MessageId, d.Body)
			if err == nil {
				d.Ack(false)
				continue
			}

			if consumer.Retryable(err) {
				// Typically a sequence gap or a transient store failure:
				// requeue and let a later delivery succeed.
				log.WithError(err).Warn("failed to project message, requeueing")
				d.Nack(false, true)
			} else {
				// Payload-shaped failure; redelivery can never help.
				log.WithError(err).Error("dropping unprocessable message")
				d.Nack(false, false)
			}
		}
	}()

	logrus.Info("Consumer waiting for messages. To exit press CTRL+C")
	<-ctx.Done()
	logrus.Info("Consumer shutting down...")
}
