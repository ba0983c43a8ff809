// Package queue connects the worker to the platform's RabbitMQ work queue.
// The broker provides mutual exclusion across workers: each migration job is
// claimed by exactly one consumer at a time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one raw job payload. A returned error rejects the
// delivery without requeue, handing it to the broker's dead-letter policy.
type Handler func(ctx context.Context, body []byte) error

// Consumer pulls migration jobs one at a time.
type Consumer struct {
	url   string
	queue string
	log   *zap.Logger
}

// NewConsumer creates a Consumer for the named queue.
func NewConsumer(url, queue string, log *zap.Logger) *Consumer {
	return &Consumer{url: url, queue: queue, log: log}
}

// Run consumes until the context is cancelled. Prefetch is 1 so the worker
// has at most one migration run in flight.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	c.log.Info("consuming migration jobs", zap.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := handler(ctx, msg.Body); err != nil {
				c.log.Error("job failed", zap.Error(err))
				msg.Nack(false, false)
				continue
			}
			msg.Ack(false)
		}
	}
}

// Publisher enqueues migration jobs. Used by the API layer and by tests.
type Publisher struct {
	url   string
	queue string
}

// NewPublisher creates a Publisher for the named queue.
func NewPublisher(url, queue string) *Publisher {
	return &Publisher{url: url, queue: queue}
}

// Publish marshals the payload and enqueues it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, payload any) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", p.queue, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	return ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}
