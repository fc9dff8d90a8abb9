package assistant

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Matcher detects unavailability phrases in messages. Matching is accent and
// case insensitive and anchored on word boundaries, so "revendu" does not
// match a "vendu" keyword.
type Matcher struct {
	keywords []string
	patterns []*regexp.Regexp
}

var (
	foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// fold lowercases and strips diacritics.
func fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// NewMatcher compiles one whole-phrase pattern per keyword. Empty keywords
// are skipped.
func NewMatcher(keywords []string) *Matcher {
	m := &Matcher{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		quoted := regexp.QuoteMeta(fold(kw))
		// Keyword phrases match across any run of whitespace.
		quoted = whitespaceRe.ReplaceAllString(quoted, `\s+`)
		re, err := regexp.Compile(`\b` + quoted + `\b`)
		if err != nil {
			continue
		}
		m.keywords = append(m.keywords, kw)
		m.patterns = append(m.patterns, re)
	}
	return m
}

// Match returns the first keyword found in text.
func (m *Matcher) Match(text string) (string, bool) {
	if m == nil || len(m.patterns) == 0 {
		return "", false
	}
	folded := fold(text)
	for i, re := range m.patterns {
		if re.MatchString(folded) {
			return m.keywords[i], true
		}
	}
	return "", false
}
