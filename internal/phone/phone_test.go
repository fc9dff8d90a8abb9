package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"transport address", "33612345678@c.us", "33612345678"},
		{"plus and spaces", "+33 6 12 34 56 78", "33612345678"},
		{"dashes and dots", "06-12.34.56.78", "0612345678"},
		{"already normalized", "33612345678", "33612345678"},
		{"demo prefix stripped", "demo33612345678@c.us", "33612345678"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := "+33 6 12 34 56 78@c.us"
	once := Normalize(raw)
	assert.Equal(t, once, Normalize(once))
}

func TestFormatTransportID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"national form", "0612345678", "33612345678@c.us"},
		{"international form", "33612345678", "33612345678@c.us"},
		{"plus international", "+33612345678", "33612345678@c.us"},
		{"already an address", "33612345678@c.us", "33612345678@c.us"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTransportID(tt.raw, "33"))
		})
	}
}

func TestFormatThenNormalizeRoundTrip(t *testing.T) {
	addr := FormatTransportID("0612345678", "33")
	assert.Equal(t, "33612345678", Normalize(addr))
}

func TestIsDemo(t *testing.T) {
	assert.True(t, IsDemo("demo33612345678@c.us"))
	assert.True(t, IsDemo("Demo-0612345678"))
	assert.False(t, IsDemo("33612345678@c.us"))
	assert.False(t, IsDemo(""))
}
