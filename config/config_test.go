package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", cfg.Addr)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, 100, cfg.MaxPasses)
	assert.Equal(t, 8, cfg.MaxDepth)
	assert.Equal(t, time.Second, cfg.IntervalDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.WatchDebounce)

	eng := cfg.Engine()
	assert.Equal(t, time.Minute, eng.HandlerTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DECKHAND_ADDR", ":9000")
	t.Setenv("DECKHAND_PROVIDER", "anthropic")
	t.Setenv("DECKHAND_MAX_DEPTH", "3")
	t.Setenv("DECKHAND_INTERVAL_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, 3, cfg.Engine().MaxDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine().IntervalDelay)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"provider", "DECKHAND_PROVIDER", "llama", "unknown provider"},
		{"format", "DECKHAND_LOG_FORMAT", "xml", "unknown log format"},
		{"number", "DECKHAND_MAX_PASSES", "many", "parse env:"},
		{"negative", "DECKHAND_MAX_DEPTH", "-1", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
