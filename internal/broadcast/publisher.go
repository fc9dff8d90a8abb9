// Package broadcast relays conversation events to RabbitMQ so other systems
// (dashboards, CRM sync) can follow the assistant's activity.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/occasio/occasio/internal/config"
	"github.com/occasio/occasio/internal/message/event"
)

// Publisher relays hub events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// envelope is the wire form of a relayed event.
type envelope struct {
	ID             string          `json:"id"`
	Type           event.Type      `json:"type"`
	ConversationID string          `json:"conversation_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// New connects to RabbitMQ and declares a durable topic exchange. An empty
// URL returns the no-op publisher; the in-process hub still serves local
// subscribers.
func New(log *slog.Logger, cfg config.RabbitConfig) (Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "broadcast"))
	if cfg.URL == "" {
		log.Info("no broker configured, events stay in process")
		return NopPublisher{}, nil
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		cfg.Exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{
		conn:     conn,
		exchange: cfg.Exchange,
		logger:   log,
	}, nil
}

// Publish relays one event with the event type as routing key.
func (p *rmqPublisher) Publish(ctx context.Context, evt event.Event) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(envelope{
		ID:             uuid.NewString(),
		Type:           evt.Type,
		ConversationID: evt.ConversationID,
		OccurredAt:     time.Now().UTC(),
		Data:           evt.Data,
	})
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, string(evt.Type), false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err == nil {
		p.logger.Debug("published",
			slog.String("key", string(evt.Type)),
			slog.String("exchange", p.exchange))
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, event.Event) error { return nil }
func (NopPublisher) Close() error                               { return nil }
