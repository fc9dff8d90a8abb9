// Package pipeline ingests inbound chat messages: it resolves the
// conversation, suppresses duplicates, runs signal detection and the state
// machine, and drives the assistant's reply.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/occasio/occasio/internal/assistant"
	"github.com/occasio/occasio/internal/conversation"
	"github.com/occasio/occasio/internal/listing"
	"github.com/occasio/occasio/internal/message"
	"github.com/occasio/occasio/internal/message/event"
	"github.com/occasio/occasio/internal/offer"
	"github.com/occasio/occasio/internal/phone"
	"github.com/occasio/occasio/internal/pricing"
	"github.com/occasio/occasio/internal/transport"
)

// ConversationStore is the slice of the conversation store the pipeline uses.
type ConversationStore interface {
	FindOrCreateByPhone(ctx context.Context, phoneKey, chatID, listingID string, isDemo bool) (conversation.Conversation, bool, error)
	Transition(ctx context.Context, id string, from, to conversation.State, reason string, mark *conversation.PriceMark, clearPrice bool) (conversation.Conversation, error)
	SetLastMessageAt(ctx context.Context, id string, at time.Time) error
}

// MessageStore is the slice of the message store the pipeline uses.
type MessageStore interface {
	FindDuplicate(ctx context.Context, conversationID, body string, isFromMe bool, externalID string, ts time.Time) (message.Message, bool, error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]message.Message, error)
}

// MessageSaver persists messages and announces them.
type MessageSaver interface {
	Save(ctx context.Context, msg message.Message) (message.Message, error)
}

// OfferStore records detected price offers.
type OfferStore interface {
	Create(ctx context.Context, conversationID, messageID string, price float64, currency, notes string) (offer.Offer, error)
}

// ListingStore links conversations to vehicle ads.
type ListingStore interface {
	FindByPhone(ctx context.Context, phoneKey string) (listing.Listing, error)
	MarkContacted(ctx context.Context, id string, at time.Time) error
}

// SettingsProvider exposes the cached assistant settings.
type SettingsProvider interface {
	Current() assistant.Settings
	UnavailabilityMatcher() *assistant.Matcher
}

// Responder generates the assistant's next reply.
type Responder interface {
	Reply(ctx context.Context, systemPrompt string, history []assistant.Turn) (string, error)
}

// Pipeline wires the ingestion steps together. One instance serves all
// conversations; per-conversation ordering comes from the executor.
type Pipeline struct {
	conversations ConversationStore
	messages      MessageStore
	saver         MessageSaver
	offers        OfferStore
	listings      ListingStore
	settings      SettingsProvider
	responder     Responder
	sender        transport.Sender
	hub           event.Publisher
	executor      *Executor
	logger        *slog.Logger

	countryCode string

	// sleep is swapped in tests to avoid real typing delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options carries the pipeline collaborators.
type Options struct {
	Conversations ConversationStore
	Messages      MessageStore
	Saver         MessageSaver
	Offers        OfferStore
	Listings      ListingStore
	Settings      SettingsProvider
	Responder     Responder
	Sender        transport.Sender
	Hub           event.Publisher
	Executor      *Executor
	CountryCode   string
}

// New creates a pipeline.
func New(log *slog.Logger, opts Options) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		conversations: opts.Conversations,
		messages:      opts.Messages,
		saver:         opts.Saver,
		offers:        opts.Offers,
		listings:      opts.Listings,
		settings:      opts.Settings,
		responder:     opts.Responder,
		sender:        opts.Sender,
		hub:           opts.Hub,
		executor:      opts.Executor,
		logger:        log.With(slog.String("service", "pipeline")),
		countryCode:   opts.CountryCode,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Enqueue hands an inbound event to the conversation's serial queue.
func (p *Pipeline) Enqueue(evt transport.InboundEvent) error {
	key := phone.Normalize(evt.SenderID)
	if key == "" {
		return fmt.Errorf("inbound event has no usable sender id")
	}
	return p.executor.Submit(key, func(ctx context.Context) {
		if err := p.Process(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("inbound processing failed",
				slog.String("phone_key", key),
				slog.Any("error", err))
		}
	})
}

// Process runs the full ingestion sequence for one inbound event.
func (p *Pipeline) Process(ctx context.Context, evt transport.InboundEvent) error {
	body := strings.TrimSpace(evt.Body)
	if body == "" {
		return nil
	}
	phoneKey := phone.Normalize(evt.SenderID)
	if phoneKey == "" {
		return fmt.Errorf("inbound event has no usable sender id")
	}
	isDemo := phone.IsDemo(evt.SenderID)
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	listingID := ""
	ad, err := p.listings.FindByPhone(ctx, phoneKey)
	switch {
	case err == nil:
		listingID = ad.ID
	case errors.Is(err, listing.ErrNotFound):
	default:
		p.logger.Warn("listing lookup failed", slog.String("phone_key", phoneKey), slog.Any("error", err))
	}

	conv, created, err := p.conversations.FindOrCreateByPhone(ctx, phoneKey, evt.SenderID, listingID, isDemo)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		p.logger.Info("conversation created",
			slog.String("conversation_id", conv.ID),
			slog.String("phone_key", phoneKey),
			slog.Bool("demo", isDemo))
	}

	if existing, dup, err := p.messages.FindDuplicate(ctx, conv.ID, body, false, evt.ExternalMessageID, ts); err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	} else if dup {
		p.logger.Info("duplicate message ignored",
			slog.String("conversation_id", conv.ID),
			slog.String("existing_id", existing.ID))
		return nil
	}

	stored, err := p.saver.Save(ctx, message.Message{
		ConversationID:    conv.ID,
		Body:              body,
		IsFromMe:          false,
		ExternalMessageID: evt.ExternalMessageID,
		Timestamp:         ts,
	})
	if err != nil {
		if errors.Is(err, message.ErrDuplicate) {
			p.logger.Info("duplicate message rejected by index", slog.String("conversation_id", conv.ID))
			return nil
		}
		return fmt.Errorf("persist inbound: %w", err)
	}

	if err := p.conversations.SetLastMessageAt(ctx, conv.ID, ts); err != nil {
		p.logger.Warn("bump last message failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
	}

	settings := p.settings.Current()
	signals := conversation.Signals{
		Price:  pricing.Detect(body),
		IsDemo: isDemo,
	}
	matchedKeyword := ""
	if kw, ok := p.settings.UnavailabilityMatcher().Match(body); ok {
		signals.Unavailability = true
		matchedKeyword = kw
	}

	if listingID != "" && !signals.Unavailability {
		if err := p.listings.MarkContacted(ctx, listingID, ts); err != nil {
			p.logger.Warn("mark listing contacted failed", slog.String("listing_id", listingID), slog.Any("error", err))
		}
	}

	outcome := conversation.DecideTransition(conv.State, signals, conversation.Policy{
		PauseBotOnPriceOffer: settings.PauseBotOnPriceOffer,
	})

	if outcome.SignalUnavailability {
		p.logger.Info("unavailability signal",
			slog.String("conversation_id", conv.ID),
			slog.String("keyword", matchedKeyword))
		p.publish(event.TypeUnavailabilityDetected, conv.ID, map[string]any{
			"keyword":    matchedKeyword,
			"message_id": stored.ID,
			"listing_id": listingID,
		})
	}

	if outcome.RecordOffer {
		recorded, err := p.offers.Create(ctx, conv.ID, stored.ID, signals.Price.Price, signals.Price.Currency, signals.Price.Context)
		if err != nil {
			p.logger.Error("record offer failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		} else {
			p.publish(event.TypePriceOfferDetected, conv.ID, map[string]any{
				"offer_id":   recorded.ID,
				"price":      recorded.OfferedPrice,
				"currency":   recorded.Currency,
				"message_id": stored.ID,
				"rule":       signals.Price.Kind.String(),
			})
		}
	}

	if outcome.Changed {
		previous := conv.State
		updated, err := p.conversations.Transition(ctx, conv.ID, conv.State, outcome.NextState, outcome.Reason, &conversation.PriceMark{
			Price:     signals.Price.Price,
			MessageID: stored.ID,
			At:        time.Now(),
		}, false)
		if err != nil {
			p.logger.Error("state transition failed",
				slog.String("conversation_id", conv.ID),
				slog.String("to", string(outcome.NextState)),
				slog.Any("error", err))
			// the conversation was meant to pause; do not answer this message
			conv.State = outcome.NextState
		} else {
			conv = updated
			p.publish(event.TypeStateChanged, conv.ID, map[string]any{
				"from":   string(previous),
				"to":     string(updated.State),
				"reason": updated.StateChangeReason,
			})
		}
	}

	if evt.Silent || conv.State != conversation.StateActive || !settings.ShouldAutoRespond(body) {
		return nil
	}
	p.reply(ctx, conv, settings, isDemo)
	return nil
}

// reply generates and delivers the assistant's answer. Failures are logged
// and swallowed; the counterpart never sees an error.
func (p *Pipeline) reply(ctx context.Context, conv conversation.Conversation, settings assistant.Settings, isDemo bool) {
	history, err := p.messages.ListRecent(ctx, conv.ID, settings.MaxHistory)
	if err != nil {
		p.logger.Error("load history failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return
	}
	turns := make([]assistant.Turn, 0, len(history))
	for _, m := range history {
		role := assistant.RoleUser
		if m.IsFromMe {
			role = assistant.RoleAssistant
		}
		turns = append(turns, assistant.Turn{Role: role, Content: m.Body})
	}

	text, err := p.responder.Reply(ctx, settings.SystemPrompt, turns)
	if err != nil {
		p.logger.Warn("reply generation failed, using fallback",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err))
		text = assistant.FallbackReply
	}

	if !isDemo {
		if err := p.sleep(ctx, assistant.TypingDelay(text, settings.Typing)); err != nil {
			return
		}
	}

	to := phone.FormatTransportID(conv.PhoneKey, p.countryCode)
	externalID, err := p.sender.SendText(ctx, to, text)
	if err != nil {
		p.logger.Error("send reply failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return
	}

	now := time.Now().UTC()
	if _, err := p.saver.Save(ctx, message.Message{
		ConversationID:    conv.ID,
		Body:              text,
		IsFromMe:          true,
		ExternalMessageID: externalID,
		Timestamp:         now,
	}); err != nil {
		p.logger.Error("persist reply failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return
	}
	if err := p.conversations.SetLastMessageAt(ctx, conv.ID, now); err != nil {
		p.logger.Warn("bump last message failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
	}
}

func (p *Pipeline) publish(eventType event.Type, conversationID string, payload map[string]any) {
	if p.hub == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("marshal event payload", slog.Any("error", err))
		return
	}
	p.hub.Publish(event.Event{
		Type:           eventType,
		ConversationID: conversationID,
		Data:           data,
	})
}

// Close stops the executor, cancelling queued and in-flight work.
func (p *Pipeline) Close() {
	if p.executor != nil {
		p.executor.Close()
	}
}
