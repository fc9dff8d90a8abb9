// Package transport abstracts the chat bridge that delivers and receives
// messages for the assistant.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when no bridge endpoint is configured.
var ErrNotConfigured = errors.New("transport not configured")

// InboundEvent is one message observed by the bridge, as handed to the
// ingestion pipeline. SenderID is the raw transport identifier, untouched.
type InboundEvent struct {
	SenderID          string    `json:"sender_id"`
	Body              string    `json:"body"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`

	// Silent suppresses the auto-reply; backfill imports set it so old
	// messages are stored and analyzed without answering them again.
	Silent bool `json:"silent,omitempty"`
}

// Sender delivers outbound messages through the bridge.
type Sender interface {
	// SendText delivers body to a transport address and returns the
	// transport's message id when it provides one.
	SendText(ctx context.Context, to, body string) (string, error)
}

// StatusInfo describes the bridge connection.
type StatusInfo struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Detail    string `json:"detail,omitempty"`
}

// QRInfo carries the pairing payload while the bridge waits for a device
// link. The payload is opaque to this service.
type QRInfo struct {
	Available bool   `json:"available"`
	Payload   string `json:"payload,omitempty"`
}

// StatusReporter exposes the bridge connection state and pairing payload.
type StatusReporter interface {
	Status(ctx context.Context) (StatusInfo, error)
	QR(ctx context.Context) (QRInfo, error)
}
