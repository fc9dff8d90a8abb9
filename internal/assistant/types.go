// Package assistant holds the auto-respond policy, the reply generator, and
// the persisted assistant settings.
package assistant

import (
	"strings"
	"time"
)

// Default typing profile values.
const (
	DefaultMinDelayMs     = 2000
	DefaultMaxDelayMs     = 15000
	DefaultWordsPerMinute = 40
	DefaultMaxHistory     = 15
)

// FallbackReply is sent when reply generation fails. The counterpart never
// sees the failure itself.
const FallbackReply = "Merci pour votre message, un conseiller vous répondra rapidement."

// TypingProfile shapes the simulated typing delay before replies.
type TypingProfile struct {
	MinDelayMs     int  `json:"min_delay_ms"`
	MaxDelayMs     int  `json:"max_delay_ms"`
	WordsPerMinute int  `json:"words_per_minute"`
	Jitter         bool `json:"jitter"`
}

// Settings is the active assistant configuration.
type Settings struct {
	ID                     string        `json:"id,omitempty"`
	Enabled                bool          `json:"enabled"`
	RespondToAll           bool          `json:"respond_to_all"`
	SystemPrompt           string        `json:"system_prompt"`
	Keywords               []string      `json:"keywords"`
	UnavailabilityKeywords []string      `json:"unavailability_keywords"`
	PauseBotOnPriceOffer   bool          `json:"pause_bot_on_price_offer"`
	Typing                 TypingProfile `json:"typing"`
	MaxHistory             int           `json:"max_history"`
	UpdatedAt              time.Time     `json:"updated_at,omitempty"`
}

// DefaultSettings is the configuration used before any row is stored.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		RespondToAll: false,
		SystemPrompt: "Tu es un assistant qui aide à négocier l'achat de véhicules d'occasion. Réponds de façon courte et naturelle, en français.",
		Keywords: []string{
			"prix", "price", "dispo", "disponible", "available",
			"intéressé", "interested", "photo", "visite",
		},
		UnavailabilityKeywords: []string{
			"vendu", "vendue", "plus disponible", "déjà vendu",
			"n'est plus à vendre", "sold", "no longer available",
		},
		PauseBotOnPriceOffer: true,
		Typing: TypingProfile{
			MinDelayMs:     DefaultMinDelayMs,
			MaxDelayMs:     DefaultMaxDelayMs,
			WordsPerMinute: DefaultWordsPerMinute,
			Jitter:         true,
		},
		MaxHistory: DefaultMaxHistory,
	}
}

// ShouldAutoRespond decides whether the assistant may reply to a message.
// Disabled settings never respond; respond-to-all always does; otherwise a
// case-insensitive substring match over the trigger keywords decides.
func (s Settings) ShouldAutoRespond(text string) bool {
	if !s.Enabled {
		return false
	}
	if s.RespondToAll {
		return true
	}
	lowered := strings.ToLower(text)
	for _, kw := range s.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
