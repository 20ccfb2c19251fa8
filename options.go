package gptproxy

import (
	"log/slog"
	"time"

	"github.com/ggoodman/gptproxy-go/completion"
	"github.com/ggoodman/gptproxy-go/describe"
	"github.com/ggoodman/gptproxy-go/exemplar"
)

// Option configures a Proxy.
type Option func(*Proxy)

// WithConfig replaces the whole configuration. Options applied after it
// override individual fields.
func WithConfig(cfg Config) Option {
	return func(p *Proxy) { p.cfg = cfg }
}

// WithModel sets the backend model id.
func WithModel(model string) Option {
	return func(p *Proxy) { p.cfg.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Proxy) { p.cfg.Temperature = t }
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(n int) Option {
	return func(p *Proxy) { p.cfg.MaxTokens = n }
}

// WithModeration toggles the moderation check before every completion call.
func WithModeration(enabled bool) Option {
	return func(p *Proxy) { p.cfg.Moderation = enabled }
}

// WithRetries sets the total completion call budget for decode failures.
func WithRetries(n int) Option {
	return func(p *Proxy) { p.cfg.Retries = n }
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.cfg.Timeout = d }
}

// WithStyle selects chat or raw completion framing.
func WithStyle(s completion.Style) Option {
	return func(p *Proxy) { p.cfg.Style = string(s) }
}

// WithSchemaDepth bounds the depth of rendered type schemas.
func WithSchemaDepth(depth int) Option {
	return func(p *Proxy) { p.cfg.SchemaDepth = depth }
}

// WithDescriber shares a Describer (and its caches) between proxies or
// configures abbreviation rules.
func WithDescriber(d *describe.Describer) Option {
	return func(p *Proxy) {
		if d != nil {
			p.describer = d
		}
	}
}

// WithExamples seeds the example store.
func WithExamples(examples ...exemplar.Example) Option {
	return func(p *Proxy) { p.seed = append(p.seed, examples...) }
}

// WithExampleLog loads prior examples from l at construction and appends
// every newly recorded example to it.
func WithExampleLog(l exemplar.Log) Option {
	return func(p *Proxy) { p.exampleLog = l }
}

// WithRecordExamples toggles recording of verified responses.
func WithRecordExamples(enabled bool) Option {
	return func(p *Proxy) { p.cfg.RecordExamples = enabled }
}

// WithStructuredOutput attaches the return type's JSON schema to chat
// requests.
func WithStructuredOutput(enabled bool) Option {
	return func(p *Proxy) { p.cfg.StructuredOutput = enabled }
}

// WithLogHandler routes proxy diagnostics to h.
func WithLogHandler(h slog.Handler) Option {
	return func(p *Proxy) { p.logHandler = h }
}
