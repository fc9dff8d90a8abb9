package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/occasio/occasio/internal/pricing"
)

func priceSignal(amount float64) Signals {
	return Signals{Price: pricing.Result{Kind: pricing.KindContextual, Price: amount, Currency: "EUR"}}
}

func TestDecideTransitionPriceInActive(t *testing.T) {
	out := DecideTransition(StateActive, priceSignal(15000), Policy{PauseBotOnPriceOffer: true})
	assert.True(t, out.Changed)
	assert.Equal(t, StateNegotiation, out.NextState)
	assert.Equal(t, ReasonPriceDetected, out.Reason)
	assert.True(t, out.RecordOffer)
	assert.False(t, out.SignalUnavailability)
}

func TestDecideTransitionPauseDisabled(t *testing.T) {
	out := DecideTransition(StateActive, priceSignal(15000), Policy{PauseBotOnPriceOffer: false})
	assert.False(t, out.Changed)
	assert.Equal(t, StateActive, out.NextState)
	assert.True(t, out.RecordOffer)
}

func TestDecideTransitionPriceOutsideActive(t *testing.T) {
	for _, state := range []State{StateNegotiation, StateCompleted, StateArchived} {
		out := DecideTransition(state, priceSignal(9000), Policy{PauseBotOnPriceOffer: true})
		assert.False(t, out.Changed, "state %s", state)
		assert.Equal(t, state, out.NextState)
		assert.True(t, out.RecordOffer, "offers are kept for audit in state %s", state)
	}
}

func TestDecideTransitionDemoNeverTransitions(t *testing.T) {
	in := priceSignal(12000)
	in.IsDemo = true
	out := DecideTransition(StateActive, in, Policy{PauseBotOnPriceOffer: true})
	assert.False(t, out.Changed)
	assert.Equal(t, StateActive, out.NextState)
	assert.True(t, out.RecordOffer)
}

func TestDecideTransitionUnavailabilitySignalsOnly(t *testing.T) {
	out := DecideTransition(StateActive, Signals{Unavailability: true}, Policy{PauseBotOnPriceOffer: true})
	assert.False(t, out.Changed)
	assert.Equal(t, StateActive, out.NextState)
	assert.True(t, out.SignalUnavailability)
	assert.False(t, out.RecordOffer)
}

func TestDecideTransitionNoSignals(t *testing.T) {
	out := DecideTransition(StateActive, Signals{}, Policy{PauseBotOnPriceOffer: true})
	assert.Equal(t, Outcome{NextState: StateActive}, out)
}

func TestStateValid(t *testing.T) {
	assert.True(t, StateActive.Valid())
	assert.True(t, StateNegotiation.Valid())
	assert.True(t, StateCompleted.Valid())
	assert.True(t, StateArchived.Valid())
	assert.False(t, State("paused").Valid())
	assert.False(t, State("").Valid())
}
