// Package pricing detects price offers in free-form chat messages.
//
// Detection is a prioritized rule cascade: an intent phrase with an amount
// and currency wins over a bare amount with a currency, which wins over a
// plausible bare number. The first matching rule decides.
package pricing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies which detection rule produced a result.
type Kind int

const (
	// KindNone means no price offer was found.
	KindNone Kind = iota
	// KindContextual means an intent phrase introduced the amount.
	KindContextual
	// KindBare means an amount was adjacent to a currency marker.
	KindBare
	// KindPlausibleBare means a lone number fell in the plausible price band.
	KindPlausibleBare
)

func (k Kind) String() string {
	switch k {
	case KindContextual:
		return "contextual"
	case KindBare:
		return "bare"
	case KindPlausibleBare:
		return "plausible_bare"
	default:
		return "none"
	}
}

// Result holds the outcome of Detect. Price and Currency are meaningful only
// when Kind is not KindNone. Context carries the matched text fragment.
type Result struct {
	Kind     Kind
	Price    float64
	Currency string
	Context  string
}

// Detected reports whether a price offer was found.
func (r Result) Detected() bool {
	return r.Kind != KindNone
}

// DefaultCurrency is assumed when the message carries no explicit marker.
const DefaultCurrency = "EUR"

const (
	plausibleMin = 500
	plausibleMax = 200000
	// Messages longer than this many words do not qualify for the bare
	// number rule; prices quoted in passing prose need an explicit marker.
	plausibleMaxWords = 5
)

// amount: groups of three digits split by space/dot/comma, or a plain run of
// digits, with an optional decimal tail.
const amountPattern = `(\d{1,3}(?:[ .,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`

const currencyPattern = `(€|euros?|eur)`

var (
	contextualRe = regexp.MustCompile(`(?i)\b(?:je\s+(?:te\s+|vous\s+)?(?:propose|offre|donne)|mon\s+dernier\s+prix\s+est(?:\s+de)?|prix\s+(?:de|est\s+de)?|offre\s+(?:de|à)?|i\s+(?:can\s+)?offer|my\s+price\s+is|pour|for|at|à)\s*:?\s*` + amountPattern + `\s*([kK])?\s*` + currencyPattern)

	bareRe = regexp.MustCompile(`(?i)` + amountPattern + `\s*([kK])?\s*` + currencyPattern)

	plausibleRe = regexp.MustCompile(`\b(\d{1,2}[ .,]?\d{3}|\d{4,5}|\d{1,3}\s*[kK])\b`)

	kSuffixRe = regexp.MustCompile(`(?i)^(\d{1,3})\s*k$`)
)

// Detect scans text for a price offer and returns the first rule that matches.
func Detect(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}
	}

	if m := contextualRe.FindStringSubmatch(trimmed); m != nil {
		if price, ok := parseAmount(m[1], m[2] != ""); ok {
			return Result{Kind: KindContextual, Price: price, Currency: DefaultCurrency, Context: strings.TrimSpace(m[0])}
		}
	}

	if m := bareRe.FindStringSubmatch(trimmed); m != nil {
		if price, ok := parseAmount(m[1], m[2] != ""); ok {
			return Result{Kind: KindBare, Price: price, Currency: DefaultCurrency, Context: strings.TrimSpace(m[0])}
		}
	}

	if m := plausibleRe.FindStringSubmatch(trimmed); m != nil {
		raw := m[1]
		hasK := false
		if km := kSuffixRe.FindStringSubmatch(raw); km != nil {
			raw = km[1]
			hasK = true
		}
		price, ok := parseAmount(raw, hasK)
		if ok && price >= plausibleMin && price <= plausibleMax && plausibleContext(trimmed, m[0]) {
			return Result{Kind: KindPlausibleBare, Price: price, Currency: DefaultCurrency, Context: strings.TrimSpace(m[0])}
		}
	}

	return Result{}
}

// plausibleContext accepts a bare number only when the message is that number
// alone or a very short sentence.
func plausibleContext(message, match string) bool {
	if strings.TrimSpace(message) == strings.TrimSpace(match) {
		return true
	}
	return len(strings.Fields(message)) <= plausibleMaxWords
}

// parseAmount converts a matched numeric fragment to a float. Spaces are
// thousand separators; a trailing dot or comma followed by one or two digits
// is a decimal separator; any other dot or comma groups thousands.
func parseAmount(raw string, thousands bool) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")

	decimal := ""
	if i := lastSeparator(s); i >= 0 && len(s)-i-1 <= 2 {
		decimal = s[i+1:]
		s = s[:i]
	}
	s = strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, s)
	if decimal != "" {
		s = s + "." + decimal
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if thousands {
		value *= 1000
	}
	if math.IsInf(value, 0) || math.IsNaN(value) || value <= 0 {
		return 0, false
	}
	return value, true
}

func lastSeparator(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' || s[i] == ',' {
			return i
		}
	}
	return -1
}
