package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occasio/occasio/internal/assistant"
	"github.com/occasio/occasio/internal/conversation"
	"github.com/occasio/occasio/internal/listing"
	"github.com/occasio/occasio/internal/message"
	"github.com/occasio/occasio/internal/message/event"
	"github.com/occasio/occasio/internal/offer"
	"github.com/occasio/occasio/internal/transport"
)

type fakeConversations struct {
	mu             sync.Mutex
	nextID         int
	byKey          map[string]*conversation.Conversation
	failTransition error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{byKey: map[string]*conversation.Conversation{}}
}

func (f *fakeConversations) FindOrCreateByPhone(_ context.Context, phoneKey, chatID, listingID string, isDemo bool) (conversation.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byKey[phoneKey]; ok {
		return *c, false, nil
	}
	f.nextID++
	c := &conversation.Conversation{
		ID:        fmt.Sprintf("conv-%d", f.nextID),
		PhoneKey:  phoneKey,
		ChatID:    chatID,
		ListingID: listingID,
		State:     conversation.StateActive,
		IsDemo:    isDemo,
	}
	f.byKey[phoneKey] = c
	return *c, true, nil
}

func (f *fakeConversations) Transition(_ context.Context, id string, from, to conversation.State, reason string, mark *conversation.PriceMark, clearPrice bool) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTransition != nil {
		return conversation.Conversation{}, f.failTransition
	}
	for _, c := range f.byKey {
		if c.ID != id {
			continue
		}
		if c.State != from {
			return conversation.Conversation{}, conversation.ErrStateConflict
		}
		c.State = to
		c.StateChangeReason = reason
		if mark != nil {
			price := mark.Price
			c.DetectedPrice = &price
			c.PriceDetectedMessageID = mark.MessageID
			at := mark.At
			c.PriceDetectedAt = &at
		}
		if clearPrice {
			c.DetectedPrice = nil
			c.PriceDetectedMessageID = ""
			c.PriceDetectedAt = nil
		}
		return *c, nil
	}
	return conversation.Conversation{}, conversation.ErrNotFound
}

func (f *fakeConversations) SetLastMessageAt(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byKey {
		if c.ID == id {
			t := at
			c.LastMessageAt = &t
			return nil
		}
	}
	return conversation.ErrNotFound
}

func (f *fakeConversations) get(phoneKey string) conversation.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byKey[phoneKey]
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID int
	msgs   []message.Message
	hub    event.Publisher
}

func (f *fakeMessages) FindDuplicate(_ context.Context, conversationID, body string, isFromMe bool, externalID string, ts time.Time) (message.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ConversationID != conversationID {
			continue
		}
		if externalID != "" && m.ExternalMessageID == externalID {
			return m, true, nil
		}
		if m.Body == body && m.IsFromMe == isFromMe {
			gap := ts.Sub(m.Timestamp)
			if gap < 0 {
				gap = -gap
			}
			if gap <= message.DuplicateWindow {
				return m, true, nil
			}
		}
	}
	return message.Message{}, false, nil
}

func (f *fakeMessages) ListRecent(_ context.Context, conversationID string, limit int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Save announces the stored message like message.Service does.
func (f *fakeMessages) Save(_ context.Context, msg message.Message) (message.Message, error) {
	f.mu.Lock()
	f.nextID++
	msg.ID = fmt.Sprintf("msg-%d", f.nextID)
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	if f.hub != nil {
		f.hub.Publish(event.Event{
			Type:           event.TypeMessageCreated,
			ConversationID: msg.ConversationID,
		})
	}
	return msg, nil
}

func (f *fakeMessages) all() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.msgs...)
}

type fakeOffers struct {
	mu     sync.Mutex
	offers []offer.Offer
}

func (f *fakeOffers) Create(_ context.Context, conversationID, messageID string, price float64, currency, notes string) (offer.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := offer.Offer{
		ID:             fmt.Sprintf("offer-%d", len(f.offers)+1),
		ConversationID: conversationID,
		MessageID:      messageID,
		OfferedPrice:   price,
		Currency:       currency,
		Notes:          notes,
		Status:         offer.StatusPending,
	}
	f.offers = append(f.offers, o)
	return o, nil
}

func (f *fakeOffers) all() []offer.Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]offer.Offer(nil), f.offers...)
}

type fakeListings struct {
	mu        sync.Mutex
	byPhone   map[string]listing.Listing
	contacted []string
}

func (f *fakeListings) FindByPhone(_ context.Context, phoneKey string) (listing.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.byPhone[phoneKey]; ok {
		return l, nil
	}
	return listing.Listing{}, listing.ErrNotFound
}

func (f *fakeListings) MarkContacted(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacted = append(f.contacted, id)
	return nil
}

type fakeSettings struct {
	settings assistant.Settings
	matcher  *assistant.Matcher
}

func (f *fakeSettings) Current() assistant.Settings { return f.settings }
func (f *fakeSettings) UnavailabilityMatcher() *assistant.Matcher {
	return f.matcher
}

type fakeResponder struct {
	text string
	err  error
}

func (f *fakeResponder) Reply(context.Context, string, []assistant.Turn) (string, error) {
	return f.text, f.err
}

type fakeSender struct {
	mu    sync.Mutex
	sends []struct{ To, Body string }
	err   error
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sends = append(f.sends, struct{ To, Body string }{to, body})
	return fmt.Sprintf("ext-%d", len(f.sends)), nil
}

func (f *fakeSender) all() []struct{ To, Body string } {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]struct{ To, Body string }(nil), f.sends...)
}

type fixture struct {
	pipeline      *Pipeline
	conversations *fakeConversations
	messages      *fakeMessages
	offers        *fakeOffers
	listings      *fakeListings
	sender        *fakeSender
	settings      *fakeSettings
	hub           *event.Hub
	events        <-chan event.Event
	cancelEvents  func()
	slept         *[]time.Duration
}

func newFixture(t *testing.T, settings assistant.Settings) *fixture {
	t.Helper()
	convs := newFakeConversations()
	hub := event.NewHub()
	msgs := &fakeMessages{hub: hub}
	offers := &fakeOffers{}
	listings := &fakeListings{byPhone: map[string]listing.Listing{}}
	sender := &fakeSender{}
	provider := &fakeSettings{
		settings: settings,
		matcher:  assistant.NewMatcher(settings.UnavailabilityKeywords),
	}

	p := New(nil, Options{
		Conversations: convs,
		Messages:      msgs,
		Saver:         msgs,
		Offers:        offers,
		Listings:      listings,
		Settings:      provider,
		Responder:     &fakeResponder{text: "bonjour, oui elle est dispo"},
		Sender:        sender,
		Hub:           hub,
		Executor:      NewExecutor(8),
		CountryCode:   "33",
	})

	slept := &[]time.Duration{}
	p.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}

	_, events, cancel := hub.Subscribe("", 64)
	t.Cleanup(cancel)
	t.Cleanup(p.Close)

	return &fixture{
		pipeline:      p,
		conversations: convs,
		messages:      msgs,
		offers:        offers,
		listings:      listings,
		sender:        sender,
		settings:      provider,
		hub:           hub,
		events:        events,
		cancelEvents:  cancel,
		slept:         slept,
	}
}

func (f *fixture) drainEvents() []event.Event {
	var out []event.Event
	for {
		select {
		case evt := <-f.events:
			out = append(out, evt)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func respondToAllSettings() assistant.Settings {
	s := assistant.DefaultSettings()
	s.RespondToAll = true
	s.Typing.Jitter = false
	return s
}

func inbound(sender, body string) transport.InboundEvent {
	return transport.InboundEvent{
		SenderID:  sender,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

func TestProcessCreatesConversationAndReplies(t *testing.T) {
	f := newFixture(t, respondToAllSettings())
	f.listings.byPhone["33612345678"] = listing.Listing{ID: "ad-1", Phone: "33612345678"}

	err := f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "bonjour, toujours disponible ?"))
	require.NoError(t, err)

	conv := f.conversations.get("33612345678")
	assert.Equal(t, conversation.StateActive, conv.State)
	assert.Equal(t, "ad-1", conv.ListingID)
	assert.NotNil(t, conv.LastMessageAt)

	msgs := f.messages.all()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].IsFromMe)
	assert.True(t, msgs[1].IsFromMe)
	assert.Equal(t, "bonjour, oui elle est dispo", msgs[1].Body)

	sends := f.sender.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "33612345678@c.us", sends[0].To)

	assert.Equal(t, []string{"ad-1"}, f.listings.contacted)
	require.Len(t, *f.slept, 1, "a real conversation gets a typing delay")

	types := eventTypes(f.drainEvents())
	assert.Contains(t, types, event.TypeMessageCreated)
}

func TestProcessPriceOfferPausesConversation(t *testing.T) {
	f := newFixture(t, respondToAllSettings())

	err := f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "je vous propose 12000€"))
	require.NoError(t, err)

	conv := f.conversations.get("33612345678")
	assert.Equal(t, conversation.StateNegotiation, conv.State)
	assert.Equal(t, conversation.ReasonPriceDetected, conv.StateChangeReason)
	require.NotNil(t, conv.DetectedPrice)
	assert.Equal(t, 12000.0, *conv.DetectedPrice)
	assert.NotEmpty(t, conv.PriceDetectedMessageID)
	assert.NotNil(t, conv.PriceDetectedAt)

	offers := f.offers.all()
	require.Len(t, offers, 1)
	assert.Equal(t, 12000.0, offers[0].OfferedPrice)
	assert.Equal(t, "EUR", offers[0].Currency)

	assert.Empty(t, f.sender.all(), "no auto-reply once the conversation is paused")

	types := eventTypes(f.drainEvents())
	assert.Contains(t, types, event.TypePriceOfferDetected)
	assert.Contains(t, types, event.TypeStateChanged)
}

func TestProcessBackdatedPriceMarksDetectionNow(t *testing.T) {
	f := newFixture(t, respondToAllSettings())

	evt := inbound("33612345678@c.us", "je vous propose 12000€")
	evt.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, f.pipeline.Process(context.Background(), evt))

	conv := f.conversations.get("33612345678")
	require.NotNil(t, conv.PriceDetectedAt)
	assert.WithinDuration(t, time.Now(), *conv.PriceDetectedAt, time.Minute,
		"detection time reflects when the price was seen, not when the message was sent")
}

func TestProcessTransitionFailureSuppressesReply(t *testing.T) {
	f := newFixture(t, respondToAllSettings())
	f.conversations.failTransition = conversation.ErrStateConflict

	err := f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "je vous propose 12000€"))
	require.NoError(t, err)

	conv := f.conversations.get("33612345678")
	assert.Equal(t, conversation.StateActive, conv.State, "the stored state is untouched when the update fails")
	assert.Len(t, f.offers.all(), 1, "the offer is still recorded")
	assert.Empty(t, f.sender.all(), "a message that should pause the conversation gets no reply")
}

func TestProcessPriceInNegotiationRecordsOfferOnly(t *testing.T) {
	f := newFixture(t, respondToAllSettings())

	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "je vous propose 12000€")))
	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "allez, 12500€ dernier prix")))

	conv := f.conversations.get("33612345678")
	assert.Equal(t, conversation.StateNegotiation, conv.State)
	assert.Len(t, f.offers.all(), 2, "offers outside the active state are still recorded")
	assert.Empty(t, f.sender.all())
}

func TestProcessDuplicateAborts(t *testing.T) {
	f := newFixture(t, respondToAllSettings())

	evt := inbound("33612345678@c.us", "bonjour")
	evt.ExternalMessageID = "wa-1"
	require.NoError(t, f.pipeline.Process(context.Background(), evt))
	require.NoError(t, f.pipeline.Process(context.Background(), evt))

	var stored int
	for _, m := range f.messages.all() {
		if !m.IsFromMe {
			stored++
		}
	}
	assert.Equal(t, 1, stored, "the duplicate must not be stored twice")
	assert.Len(t, f.sender.all(), 1, "the duplicate must not trigger a second reply")
}

func TestProcessNearDuplicateWithinWindow(t *testing.T) {
	f := newFixture(t, respondToAllSettings())

	first := inbound("33612345678@c.us", "bonjour")
	require.NoError(t, f.pipeline.Process(context.Background(), first))

	second := first
	second.Timestamp = first.Timestamp.Add(5 * time.Second)
	require.NoError(t, f.pipeline.Process(context.Background(), second))

	third := first
	third.Timestamp = first.Timestamp.Add(30 * time.Second)
	require.NoError(t, f.pipeline.Process(context.Background(), third))

	var stored int
	for _, m := range f.messages.all() {
		if !m.IsFromMe {
			stored++
		}
	}
	assert.Equal(t, 2, stored, "only the copy outside the window is a new message")
}

func TestProcessDemoConversationNeverTransitions(t *testing.T) {
	f := newFixture(t, respondToAllSettings())

	err := f.pipeline.Process(context.Background(), inbound("demo33612345678@c.us", "je vous propose 9000€"))
	require.NoError(t, err)

	conv := f.conversations.get("33612345678")
	assert.True(t, conv.IsDemo)
	assert.Equal(t, conversation.StateActive, conv.State)
	assert.Len(t, f.offers.all(), 1, "demo offers are still recorded")
	assert.Len(t, f.sender.all(), 1, "demo conversations still get replies")
	assert.Empty(t, *f.slept, "demo replies skip the typing delay")
}

func TestProcessUnavailabilitySignals(t *testing.T) {
	s := assistant.DefaultSettings()
	s.RespondToAll = false
	s.Keywords = []string{"dispo"}
	f := newFixture(t, s)
	f.listings.byPhone["33612345678"] = listing.Listing{ID: "ad-1", Phone: "33612345678"}

	err := f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "désolé c'est déjà vendu"))
	require.NoError(t, err)

	conv := f.conversations.get("33612345678")
	assert.Equal(t, conversation.StateActive, conv.State, "unavailability never changes state by itself")
	assert.Empty(t, f.listings.contacted, "an unavailable listing is not marked contacted")
	assert.Empty(t, f.offers.all())

	types := eventTypes(f.drainEvents())
	assert.Contains(t, types, event.TypeUnavailabilityDetected)
}

func TestProcessKeywordGate(t *testing.T) {
	s := assistant.DefaultSettings()
	s.RespondToAll = false
	s.Keywords = []string{"dispo"}
	f := newFixture(t, s)

	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "bonjour")))
	assert.Empty(t, f.sender.all(), "no keyword, no reply")

	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "c'est dispo ?")))
	assert.Len(t, f.sender.all(), 1)
}

func TestProcessDisabledAssistant(t *testing.T) {
	s := respondToAllSettings()
	s.Enabled = false
	f := newFixture(t, s)

	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "bonjour")))
	assert.Empty(t, f.sender.all())

	msgs := f.messages.all()
	require.Len(t, msgs, 1, "inbound messages are stored even when the assistant is off")
}

func TestProcessResponderFailureFallsBack(t *testing.T) {
	f := newFixture(t, respondToAllSettings())
	f.pipeline.responder = &fakeResponder{err: errors.New("model down")}

	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "bonjour")))

	sends := f.sender.all()
	require.Len(t, sends, 1)
	assert.Equal(t, assistant.FallbackReply, sends[0].Body)
}

func TestProcessSendFailureKeepsInbound(t *testing.T) {
	f := newFixture(t, respondToAllSettings())
	f.sender.err = errors.New("bridge offline")

	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "bonjour")))

	msgs := f.messages.all()
	require.Len(t, msgs, 1, "the failed reply is not persisted")
	assert.False(t, msgs[0].IsFromMe)
}

func TestProcessEmptyBodyIgnored(t *testing.T) {
	f := newFixture(t, respondToAllSettings())
	require.NoError(t, f.pipeline.Process(context.Background(), inbound("33612345678@c.us", "   ")))
	assert.Empty(t, f.messages.all())
}

func TestProcessSilentEventStoresWithoutReply(t *testing.T) {
	f := newFixture(t, respondToAllSettings())

	evt := inbound("33612345678@c.us", "je vous propose 11000€")
	evt.Silent = true
	require.NoError(t, f.pipeline.Process(context.Background(), evt))

	assert.Len(t, f.messages.all(), 1, "backfilled messages are stored")
	assert.Len(t, f.offers.all(), 1, "signals still run on backfilled messages")
	assert.Empty(t, f.sender.all(), "backfilled messages never trigger replies")
}

func TestEnqueueRejectsUnusableSender(t *testing.T) {
	f := newFixture(t, respondToAllSettings())
	err := f.pipeline.Enqueue(transport.InboundEvent{SenderID: "@c.us", Body: "hi"})
	assert.Error(t, err)
}

func eventTypes(events []event.Event) []event.Type {
	types := make([]event.Type, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}
