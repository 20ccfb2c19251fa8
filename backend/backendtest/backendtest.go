// Package backendtest provides a scripted completion.Backend for tests and
// offline demos.
package backendtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ggoodman/gptproxy-go/completion"
)

// ErrNoSteps is returned when the script is exhausted and no repeating step
// is configured.
var ErrNoSteps = errors.New("backendtest: no scripted steps remain")

// Step is one scripted backend answer. When Err is set it is returned instead
// of Text. Delay holds the answer back, honoring ctx.
type Step struct {
	Text  string
	Err   error
	Usage completion.Usage
	Delay time.Duration
}

// Call records one completion or chat request.
type Call struct {
	Style          completion.Style
	Model          string
	Prompt         string
	Messages       []completion.Message
	MaxTokens      int
	Temperature    float64
	ResponseFormat *completion.ResponseFormat
}

// Backend answers requests from a queue of steps.
type Backend struct {
	mu          sync.Mutex
	steps       []Step
	repeat      *Step
	moderate    func(text string) error
	calls       []Call
	moderations []string
}

var _ completion.Backend = (*Backend)(nil)

// New returns a backend that answers with steps in order.
func New(steps ...Step) *Backend {
	return &Backend{steps: append([]Step(nil), steps...)}
}

// Enqueue appends steps to the script.
func (b *Backend) Enqueue(steps ...Step) {
	b.mu.Lock()
	b.steps = append(b.steps, steps...)
	b.mu.Unlock()
}

// Repeat sets the step used once the queue is empty.
func (b *Backend) Repeat(step Step) {
	b.mu.Lock()
	b.repeat = &step
	b.mu.Unlock()
}

// ModerateWith installs a moderation verdict function. Without one every text
// passes.
func (b *Backend) ModerateWith(fn func(text string) error) {
	b.mu.Lock()
	b.moderate = fn
	b.mu.Unlock()
}

// Calls returns the recorded completion and chat requests in arrival order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Moderations returns every text passed to Moderate.
func (b *Backend) Moderations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.moderations...)
}

func (b *Backend) Complete(ctx context.Context, req *completion.CompletionRequest) (*completion.Result, error) {
	if err := completion.ValidateCompletion(req); err != nil {
		return nil, err
	}
	return b.answer(ctx, Call{
		Style:       completion.StyleCompletion,
		Model:       req.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
}

func (b *Backend) Chat(ctx context.Context, req *completion.ChatRequest) (*completion.Result, error) {
	if err := completion.ValidateChat(req); err != nil {
		return nil, err
	}
	return b.answer(ctx, Call{
		Style:          completion.StyleChat,
		Model:          req.Model,
		Messages:       append([]completion.Message(nil), req.Messages...),
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: req.ResponseFormat,
	})
}

func (b *Backend) Moderate(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.moderations = append(b.moderations, text)
	fn := b.moderate
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(text)
}

func (b *Backend) answer(ctx context.Context, call Call) (*completion.Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	var step Step
	switch {
	case len(b.steps) > 0:
		step = b.steps[0]
		b.steps = b.steps[1:]
	case b.repeat != nil:
		step = *b.repeat
	default:
		b.mu.Unlock()
		return nil, ErrNoSteps
	}
	b.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &completion.Result{
		Text:         step.Text,
		Model:        call.Model,
		FinishReason: "stop",
		Usage:        step.Usage,
	}, nil
}
