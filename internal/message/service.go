package message

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/occasio/occasio/internal/message/event"
)

// Service persists messages and announces them on the event hub.
type Service struct {
	store  *Store
	hub    event.Publisher
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, store *Store, hub event.Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		hub:    hub,
		logger: log.With(slog.String("service", "message")),
	}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *Store {
	return s.store
}

// CreatedPayload is the hub payload for a stored message.
type CreatedPayload struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	Body              string    `json:"body"`
	IsFromMe          bool      `json:"is_from_me"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Save stores a message and publishes a created event. The event is emitted
// only after the row is durable.
func (s *Service) Save(ctx context.Context, msg Message) (Message, error) {
	stored, err := s.store.Insert(ctx, msg)
	if err != nil {
		return Message{}, err
	}
	s.announce(stored)
	return stored, nil
}

func (s *Service) announce(msg Message) {
	if s.hub == nil {
		return
	}
	data, err := json.Marshal(CreatedPayload{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		Body:              msg.Body,
		IsFromMe:          msg.IsFromMe,
		ExternalMessageID: msg.ExternalMessageID,
		Timestamp:         msg.Timestamp,
	})
	if err != nil {
		s.logger.Warn("marshal message event", slog.String("error", err.Error()))
		return
	}
	s.hub.Publish(event.Event{
		Type:           event.TypeMessageCreated,
		ConversationID: msg.ConversationID,
		Data:           data,
	})
}
