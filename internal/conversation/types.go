// Package conversation manages the per-contact conversation records and the
// state machine that governs when the assistant may speak.
package conversation

import (
	"errors"
	"time"
)

// State is the lifecycle state of a conversation.
type State string

const (
	// StateActive means the assistant may auto-respond.
	StateActive State = "active"
	// StateNegotiation means a price offer paused the assistant and a human
	// should take over.
	StateNegotiation State = "negotiation"
	// StateCompleted means the exchange concluded.
	StateCompleted State = "completed"
	// StateArchived means the conversation was closed without a conclusion.
	StateArchived State = "archived"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateNegotiation, StateCompleted, StateArchived:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrStateConflict is returned when an optimistic state update keeps
	// losing to concurrent writers.
	ErrStateConflict = errors.New("conversation state changed concurrently")
	// ErrInvalidState is returned for unknown state values.
	ErrInvalidState = errors.New("invalid conversation state")
)

// Conversation is one thread with a single phone number.
type Conversation struct {
	ID                     string     `json:"id"`
	PhoneKey               string     `json:"phone_key"`
	ChatID                 string     `json:"chat_id"`
	ListingID              string     `json:"listing_id,omitempty"`
	UserID                 string     `json:"user_id,omitempty"`
	State                  State      `json:"state"`
	StateChangeReason      string     `json:"state_change_reason,omitempty"`
	IsDemo                 bool       `json:"is_demo"`
	DetectedPrice          *float64   `json:"detected_price,omitempty"`
	PriceDetectedAt        *time.Time `json:"price_detected_at,omitempty"`
	PriceDetectedMessageID string     `json:"price_detected_message_id,omitempty"`
	LastMessageAt          *time.Time `json:"last_message_at,omitempty"`
	LastStateChange        *time.Time `json:"last_state_change,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// LastMessage is a preview of the newest message, attached to list results.
type LastMessage struct {
	Body      string    `json:"body"`
	IsFromMe  bool      `json:"is_from_me"`
	Timestamp time.Time `json:"timestamp"`
}

// ListItem is a conversation with its newest message preview.
type ListItem struct {
	Conversation
	LastMessage *LastMessage `json:"last_message,omitempty"`
}
