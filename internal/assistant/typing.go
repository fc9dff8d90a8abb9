package assistant

import (
	"math/rand"
	"strings"
	"time"
)

const maxJitterFraction = 0.3

// TypingDelay computes how long to pretend to type before sending reply.
// The base delay is the word count at the configured words-per-minute rate,
// clamped to the profile's bounds. With jitter enabled a random 0-30% is
// added, capped at the maximum again.
func TypingDelay(reply string, p TypingProfile) time.Duration {
	return typingDelay(reply, p, rand.Float64)
}

// typingDelay takes the random source as a parameter so tests can pin it.
func typingDelay(reply string, p TypingProfile, random func() float64) time.Duration {
	wpm := p.WordsPerMinute
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	minMs := p.MinDelayMs
	if minMs <= 0 {
		minMs = DefaultMinDelayMs
	}
	maxMs := p.MaxDelayMs
	if maxMs < minMs {
		maxMs = DefaultMaxDelayMs
	}
	if maxMs < minMs {
		maxMs = minMs
	}

	words := len(strings.Fields(reply))
	ms := float64(words) * 60000 / float64(wpm)
	if ms < float64(minMs) {
		ms = float64(minMs)
	}
	if ms > float64(maxMs) {
		ms = float64(maxMs)
	}

	if p.Jitter && random != nil {
		ms += ms * random() * maxJitterFraction
		if ms > float64(maxMs) {
			ms = float64(maxMs)
		}
	}

	return time.Duration(ms) * time.Millisecond
}
