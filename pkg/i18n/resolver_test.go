package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarker(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantKey  string
		wantArgs map[string]string
		wantOK   bool
	}{
		{
			name:    "bare key",
			in:      "t:welcome_message",
			wantKey: "welcome_message",
			wantOK:  true,
		},
		{
			name:    "dotted key",
			in:      "t:booking.confirmed",
			wantKey: "booking.confirmed",
			wantOK:  true,
		},
		{
			name:     "key with args",
			in:       "t:greet {name=Bob, count=3}",
			wantKey:  "greet",
			wantArgs: map[string]string{"name": "Bob", "count": "3"},
			wantOK:   true,
		},
		{
			name:     "arg value with spaces",
			in:       "t:greet {name=John Doe}",
			wantKey:  "greet",
			wantArgs: map[string]string{"name": "John Doe"},
			wantOK:   true,
		},
		{
			name:   "plain text",
			in:     "Привет!",
			wantOK: false,
		},
		{
			name:   "prefix only",
			in:     "t:",
			wantOK: false,
		},
		{
			name:   "marker embedded in sentence",
			in:     "say t:welcome please",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, args, ok := ParseMarker(tt.in)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestIsMarker(t *testing.T) {
	assert.True(t, IsMarker("t:welcome"))
	assert.True(t, IsMarker("t:greet {name=Bob}"))
	assert.False(t, IsMarker("welcome"))
	assert.False(t, IsMarker("T:welcome"))
	assert.False(t, IsMarker("t:two words"))
}

func TestSettingsSupports(t *testing.T) {
	s := DefaultSettings()
	assert.True(t, s.Supports("ru"))
	assert.True(t, s.Supports("en"))
	assert.False(t, s.Supports("de"))

	custom := Settings{DefaultLocale: "en", Supported: []string{"en", "de"}}
	assert.True(t, custom.Supports("de"))
	assert.False(t, custom.Supports("ru"))
}
