// Package event provides the in-memory event hub for conversation activity.
package event

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 64
)

// Type identifies the event category published by the hub.
type Type string

const (
	// TypeMessageCreated is emitted after a message is persisted successfully.
	TypeMessageCreated Type = "message_created"
	// TypeStateChanged is emitted after a conversation changes state.
	TypeStateChanged Type = "state_changed"
	// TypePriceOfferDetected is emitted when a price offer is recorded.
	TypePriceOfferDetected Type = "price_offer_detected"
	// TypeUnavailabilityDetected is emitted when a counterpart signals the
	// item is gone.
	TypeUnavailabilityDetected Type = "unavailability_detected"
)

// Event is the normalized payload emitted by the in-process hub.
type Event struct {
	Type           Type            `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Publisher publishes events to subscribers.
type Publisher interface {
	Publish(event Event)
}

// Subscriber subscribes to conversation-scoped events. An empty conversation
// ID subscribes to every event.
type Subscriber interface {
	Subscribe(conversationID string, buffer int) (string, <-chan Event, func())
}

// firehoseKey is the internal stream key for subscribers that want all events.
const firehoseKey = "*"

// Hub is an in-process pub/sub dispatcher for conversation events.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan Event
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{
		streams: map[string]map[string]chan Event{},
	}
}

// Publish broadcasts one event to subscribers of its conversation and to
// firehose subscribers. Slow subscribers are dropped in a non-blocking way.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	conversationID := strings.TrimSpace(event.ConversationID)
	if conversationID == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[conversationID] {
		select {
		case ch <- event:
		default:
			// Drop if receiver is slow to avoid blocking the ingestion path.
		}
	}
	for _, ch := range h.streams[firehoseKey] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers one subscriber under a conversation ID; an empty ID
// subscribes to all events. It returns a stream ID, a read-only event
// channel, and a cancel function.
func (h *Hub) Subscribe(conversationID string, buffer int) (string, <-chan Event, func()) {
	if h == nil {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	key := strings.TrimSpace(conversationID)
	if key == "" {
		key = firehoseKey
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.streams[key]
	if !ok {
		streams = map[string]chan Event{}
		h.streams[key] = streams
	}
	streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			streams := h.streams[key]
			if streams != nil {
				if current, ok := streams[streamID]; ok {
					delete(streams, streamID)
					close(current)
				}
				if len(streams) == 0 {
					delete(h.streams, key)
				}
			}
			h.mu.Unlock()
		})
	}

	return streamID, ch, cancel
}
