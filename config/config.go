// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hupe1980/deckhand/engine"
	"github.com/hupe1980/deckhand/logging"
)

// Providers accepted in DECKHAND_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the runtime configuration of the deckhand binary.
type Config struct {
	Addr        string `env:"DECKHAND_ADDR" envDefault:"127.0.0.1:8000"`
	DefaultDeck string `env:"DECKHAND_DECK"`
	DBPath      string `env:"DECKHAND_DB_PATH"` // empty keeps state in memory

	Provider        string `env:"DECKHAND_PROVIDER" envDefault:"openai"`
	Model           string `env:"DECKHAND_MODEL"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	MaxPasses      int           `env:"DECKHAND_MAX_PASSES" envDefault:"100"`
	MaxDepth       int           `env:"DECKHAND_MAX_DEPTH" envDefault:"8"`
	IntervalDelay  time.Duration `env:"DECKHAND_INTERVAL_DELAY" envDefault:"1s"`
	HandlerTimeout time.Duration `env:"DECKHAND_HANDLER_TIMEOUT" envDefault:"1m"`
	WatchDebounce  time.Duration `env:"DECKHAND_WATCH_DEBOUNCE" envDefault:"200ms"`

	LogLevel  string `env:"DECKHAND_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DECKHAND_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.MaxPasses < 0 || c.MaxDepth < 0 {
		return fmt.Errorf("config: guardrails must not be negative")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Engine returns the engine guardrail defaults.
func (c Config) Engine() engine.Config {
	return engine.Config{
		MaxPasses:      c.MaxPasses,
		MaxDepth:       c.MaxDepth,
		IntervalDelay:  c.IntervalDelay,
		HandlerTimeout: c.HandlerTimeout,
	}
}

// Logger builds the process logger.
func (c Config) Logger() *logging.DeckLogger {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = logging.LogLevelInfo
	}
	return logging.NewSlogLogger(level, c.LogFormat, false)
}
