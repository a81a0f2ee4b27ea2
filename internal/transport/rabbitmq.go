package transport

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Broker startup lags the service in compose setups, so dialing retries
// with a flat backoff before giving up.
const (
	dialAttempts = 10
	dialBackoff  = 2 * time.Second
)

type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

func NewRabbitMQPublisher(url string, queueName string) (*RabbitMQPublisher, error) {
	conn, err := dialWithRetry(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Durable queue: declared identically by publisher and consumer, so
	// whichever starts first creates it.
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", queueName, err)
	}

	return &RabbitMQPublisher{
		conn:    conn,
		channel: ch,
		queue:   queueName,
	}, nil
}

func dialWithRetry(url string) (*amqp.Connection, error) {
	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": dialBackoff,
		}).Warn("RabbitMQ not reachable yet")
		time.Sleep(dialBackoff)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", dialAttempts, err)
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg Message) error {
	err := p.channel.PublishWithContext(ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			MessageId:    msg.ID,
			Type:         msg.Topic,
			ContentType:  "application/json",
			Body:         msg.Payload,
			DeliveryMode: amqp.Persistent, // survive broker restart
			Headers: amqp.Table{
				"aggregate_id": msg.AggregateID,
				"last_seq":     msg.Seq,
			},
		})

	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.channel.Close()
	p.conn.Close()
}
