package gptproxy

import (
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/gptproxy-go/completion"
	"github.com/joeshaw/envdecode"
)

// Config holds the model parameters and retry policy of a Proxy. Defaults can
// be loaded via envdecode.
type Config struct {
	// Model id sent to the backend. ENV: GPTPROXY_MODEL
	Model string `env:"GPTPROXY_MODEL,default=gpt-3.5-turbo"`
	// MaxTokens is the response token budget. ENV: GPTPROXY_MAX_TOKENS
	MaxTokens int `env:"GPTPROXY_MAX_TOKENS,default=3500"`
	// ENV: GPTPROXY_TEMPERATURE
	Temperature float64 `env:"GPTPROXY_TEMPERATURE,default=0.7"`
	// Moderation checks every outbound prompt first. ENV: GPTPROXY_MODERATION
	Moderation bool `env:"GPTPROXY_MODERATION,default=true"`
	// Retries is the total number of completion calls allowed for decode
	// failures. Values below 1 mean 1. ENV: GPTPROXY_RETRIES
	Retries int `env:"GPTPROXY_RETRIES,default=3"`
	// Timeout bounds each backend call; zero disables it. ENV: GPTPROXY_TIMEOUT
	Timeout time.Duration `env:"GPTPROXY_TIMEOUT,default=3m"`
	// SchemaDepth bounds type descriptions. ENV: GPTPROXY_SCHEMA_DEPTH
	SchemaDepth int `env:"GPTPROXY_SCHEMA_DEPTH,default=8"`
	// Style is "chat" or "completion". ENV: GPTPROXY_STYLE
	Style string `env:"GPTPROXY_STYLE,default=chat"`
	// RecordExamples appends verified responses to the example store.
	// ENV: GPTPROXY_RECORD_EXAMPLES
	RecordExamples bool `env:"GPTPROXY_RECORD_EXAMPLES,default=true"`
	// StructuredOutput attaches a JSON schema of the return type to chat
	// requests. ENV: GPTPROXY_STRUCTURED_OUTPUT
	StructuredOutput bool `env:"GPTPROXY_STRUCTURED_OUTPUT,default=false"`
}

// DefaultConfig returns the configuration used when no options override it.
func DefaultConfig() Config {
	return Config{
		Model:          "gpt-3.5-turbo",
		MaxTokens:      3500,
		Temperature:    0.7,
		Moderation:     true,
		Retries:        3,
		Timeout:        3 * time.Minute,
		SchemaDepth:    8,
		Style:          string(completion.StyleChat),
		RecordExamples: true,
	}
}

// ConfigFromEnv decodes a Config from the environment, falling back to the
// tag defaults for unset variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("gptproxy: decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) style() completion.Style { return completion.Style(c.Style) }

func (c *Config) validate() error {
	switch c.style() {
	case completion.StyleChat, completion.StyleCompletion:
	default:
		return fmt.Errorf("gptproxy: unknown style %q", c.Style)
	}
	if c.Model == "" {
		return errors.New("gptproxy: model is required")
	}
	if c.MaxTokens < 0 {
		return errors.New("gptproxy: max tokens must not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("gptproxy: timeout must not be negative")
	}
	return nil
}

func (c *Config) budget() int {
	if c.Retries < 1 {
		return 1
	}
	return c.Retries
}
