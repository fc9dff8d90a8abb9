package conversation

import (
	"github.com/occasio/occasio/internal/pricing"
)

// Signals carries what the current inbound message revealed.
type Signals struct {
	Price          pricing.Result
	Unavailability bool
	IsDemo         bool
}

// Policy is the slice of assistant settings the state machine consults.
type Policy struct {
	PauseBotOnPriceOffer bool
}

// Outcome is the decision for one inbound message.
type Outcome struct {
	NextState State
	Changed   bool
	Reason    string

	// RecordOffer asks the caller to persist a price offer row even when no
	// transition happens; offers are kept for audit in every state.
	RecordOffer bool

	// SignalUnavailability asks the caller to surface an unavailability
	// signal to operators. It never changes state on its own.
	SignalUnavailability bool
}

// ReasonPriceDetected is the recorded reason for automatic pauses.
const ReasonPriceDetected = "price detected"

// DecideTransition evaluates one inbound message against the current state.
// It is pure; persistence and notification are the caller's concern.
//
// An unavailability phrase only raises a signal. A detected price pauses an
// active conversation when the policy allows it; demo conversations never
// transition, and prices seen in other states are still recorded.
func DecideTransition(state State, in Signals, p Policy) Outcome {
	out := Outcome{NextState: state}

	if in.Unavailability {
		out.SignalUnavailability = true
		return out
	}

	if !in.Price.Detected() {
		return out
	}

	out.RecordOffer = true
	if in.IsDemo {
		return out
	}
	if p.PauseBotOnPriceOffer && state == StateActive {
		out.NextState = StateNegotiation
		out.Changed = true
		out.Reason = ReasonPriceDetected
	}
	return out
}
