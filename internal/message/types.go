// Package message stores chat messages and guards against duplicate
// ingestion.
package message

import (
	"errors"
	"time"
)

// DuplicateWindow is how close two identical messages must be to count as
// the same message observed twice.
const DuplicateWindow = 10 * time.Second

var (
	// ErrNotFound is returned when a message does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrDuplicate is returned when an insert collides with an already
	// stored message.
	ErrDuplicate = errors.New("duplicate message")
)

// Message is one chat message, inbound or outbound.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	Body              string    `json:"body"`
	IsFromMe          bool      `json:"is_from_me"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	UserID            string    `json:"user_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	CreatedAt         time.Time `json:"created_at"`
}
