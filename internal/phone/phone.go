// Package phone normalizes chat transport identifiers into canonical phone
// keys and formats phone numbers back into transport addresses.
package phone

import (
	"strings"
)

// TransportSuffix is the address suffix used by the chat transport for
// individual contacts.
const TransportSuffix = "@c.us"

// Normalize reduces a raw sender identifier to its digits only. The transport
// suffix and any formatting characters (spaces, dashes, plus signs, dots) are
// stripped. The result is the canonical key used to look up conversations.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, TransportSuffix)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatTransportID converts a phone number into a transport address.
// Identifiers that already carry the transport suffix pass through untouched.
// A leading 0 (national dialing form) is replaced with the configured country
// code before the suffix is appended.
func FormatTransportID(raw, countryCode string) string {
	if strings.HasSuffix(raw, TransportSuffix) {
		return raw
	}
	digits := Normalize(raw)
	if strings.HasPrefix(digits, "0") {
		digits = countryCode + digits[1:]
	}
	return digits + TransportSuffix
}

// IsDemo reports whether a raw sender identifier marks a demo conversation.
// Demo senders are prefixed before normalization strips the marker.
func IsDemo(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "demo")
}
