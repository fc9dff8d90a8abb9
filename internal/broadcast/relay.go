package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/occasio/occasio/internal/message/event"
)

const publishTimeout = 5 * time.Second

// Relay forwards every hub event to the external publisher. Broker failures
// are logged and dropped; the ingestion path never waits on the broker.
type Relay struct {
	events    event.Subscriber
	publisher Publisher
	logger    *slog.Logger

	cancel func()
	done   chan struct{}
}

// NewRelay creates an idle relay; call Start to begin forwarding.
func NewRelay(log *slog.Logger, events event.Subscriber, publisher Publisher) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		events:    events,
		publisher: publisher,
		logger:    log.With(slog.String("service", "broadcast_relay")),
	}
}

// Start subscribes to the hub firehose and forwards events until Stop.
func (r *Relay) Start() {
	if r.cancel != nil {
		return
	}
	_, stream, cancel := r.events.Subscribe("", event.DefaultBufferSize)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for evt := range stream {
			ctx, cancelPublish := context.WithTimeout(context.Background(), publishTimeout)
			if err := r.publisher.Publish(ctx, evt); err != nil {
				r.logger.Warn("relay publish failed",
					slog.String("type", string(evt.Type)),
					slog.String("error", err.Error()))
			}
			cancelPublish()
		}
	}()
}

// Stop unsubscribes and waits for the forwarding goroutine to drain.
func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}
