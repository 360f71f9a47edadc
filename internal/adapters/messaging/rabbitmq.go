// Package messaging publishes domain events to RabbitMQ and listens for outbox nudges
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"evolution-relay/internal/core/ports"
)

var _ ports.EventPublisher = (*AMQPPublisher)(nil)

// Envelope is the message body of every published event
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher fans domain events out to a topic exchange.
// The event type is the routing key.
type AMQPPublisher struct {
	conn     *amqp.Connection
	open     func() (channel, error)
	exchange string
	now      func() time.Time
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	if err := declareExchange(conn, exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}

	slog.Info("AMQP publisher ready", "exchange", exchange)

	return &AMQPPublisher{
		conn: conn,
		open: func() (channel, error) {
			return conn.Channel()
		},
		exchange: exchange,
		now:      time.Now,
	}, nil
}

func declareExchange(conn *amqp.Connection, exchange string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Publish sends one persistent JSON message
func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, data any) error {
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", eventType, err)
	}

	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.OccurredAt,
		Type:         eventType,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	slog.Debug("Event published",
		"event_type", eventType,
		"event_id", env.ID,
		"exchange", p.exchange,
	)
	return nil
}

// Close closes the broker connection
func (p *AMQPPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// ============================================================================
// Nudge consumer
// ============================================================================

// NudgeConsumer wakes an outbox worker running in another process whenever
// a producer publishes outbox.enqueued
type NudgeConsumer struct {
	conn     *amqp.Connection
	exchange string
	queue    string
	nudge    func()
	once     sync.Once
}

// NewNudgeConsumer dials the broker. nudge must not block.
func NewNudgeConsumer(url, exchange, queue string, nudge func()) (*NudgeConsumer, error) {
	if nudge == nil {
		return nil, errors.New("nudge func is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	if err := declareExchange(conn, exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &NudgeConsumer{
		conn:     conn,
		exchange: exchange,
		queue:    queue,
		nudge:    nudge,
	}, nil
}

// Run consumes until ctx is done or the broker closes the channel
func (c *NudgeConsumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := ch.QueueBind(q.Name, ports.EventOutboxEnqueued, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	slog.Info("Outbox nudge consumer started", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			c.handle(d)
		}
	}
}

func (c *NudgeConsumer) handle(d amqp.Delivery) {
	c.nudge()
	if err := d.Ack(false); err != nil {
		slog.Warn("Failed to ack nudge", "error", err)
	}
}

// Close closes the broker connection once
func (c *NudgeConsumer) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}
