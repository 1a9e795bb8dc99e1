// Package events publishes launch notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// DefaultExchange receives launch events when AMQP_EXCHANGE is unset.
const DefaultExchange = "lti.events"

// LaunchEvent is emitted after every verified launch.
type LaunchEvent struct {
	ID            string    `json:"id"`
	Issuer        string    `json:"issuer"`
	DeploymentID  string    `json:"deployment_id,omitempty"`
	ContextID     string    `json:"context_id,omitempty"`
	ContextTitle  string    `json:"context_title,omitempty"`
	UserSub       string    `json:"user_sub"`
	Role          string    `json:"role"`
	MessageType   string    `json:"message_type,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RoutingKey is lti.launch.<role>.
func (e LaunchEvent) RoutingKey() string {
	return "lti.launch." + e.Role
}

// Publisher sends launch events.
type Publisher interface {
	PublishLaunch(ctx context.Context, event LaunchEvent) error
	Close() error
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishLaunch(context.Context, LaunchEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("connected to RabbitMQ")
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishLaunch sends event as a persistent JSON message.
func (p *AMQPPublisher) PublishLaunch(ctx context.Context, event LaunchEvent) error {
	if event.ID == "" {
		event.ID = xid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding launch event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.CorrelationID,
		Timestamp:     event.OccurredAt,
		Type:          "lti.launch",
		Body:          body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, event.RoutingKey(), false, false, msg); err != nil {
		return fmt.Errorf("publishing launch event: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
