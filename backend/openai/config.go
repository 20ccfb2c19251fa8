package openai

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joeshaw/envdecode"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config configures a Client.
type Config struct {
	// APIKey is sent as a bearer token. Required.
	APIKey string
	// BaseURL of the API, without a trailing slash. Defaults to the public
	// endpoint.
	BaseURL string
	// HTTPClient defaults to a client without a timeout; callers bound calls
	// with ctx.
	HTTPClient *http.Client
	// RequestsPerSecond enables a client-side rate limit when positive.
	RequestsPerSecond float64
	// ASCIIOnly folds outbound text to ASCII, dropping what cannot be folded.
	ASCIIOnly bool
	// LogHandler receives request diagnostics. Nil discards them.
	LogHandler slog.Handler
}

// envConfig is the environment-decodable subset of Config.
type envConfig struct {
	// ENV: OPENAI_API_KEY
	APIKey string `env:"OPENAI_API_KEY"`
	// ENV: OPENAI_BASE_URL
	BaseURL string `env:"OPENAI_BASE_URL,default=https://api.openai.com/v1"`
	// ENV: OPENAI_REQUESTS_PER_SECOND
	RequestsPerSecond float64 `env:"OPENAI_REQUESTS_PER_SECOND,default=0"`
	// ENV: OPENAI_ASCII_ONLY
	ASCIIOnly bool `env:"OPENAI_ASCII_ONLY,default=false"`
}

// NewFromEnv builds a Client using envdecode to populate Config.
func NewFromEnv() (*Client, error) {
	var env envConfig
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("openai: decode environment: %w", err)
	}
	return New(Config{
		APIKey:            env.APIKey,
		BaseURL:           env.BaseURL,
		RequestsPerSecond: env.RequestsPerSecond,
		ASCIIOnly:         env.ASCIIOnly,
	})
}

func (c *Config) normalize() error {
	if c.APIKey == "" {
		return errors.New("openai: API key is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("openai: requests per second must not be negative")
	}
	return nil
}
