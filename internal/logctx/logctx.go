package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the invocation and backend attributes carried
// by the record's context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if inv, ok := ctx.Value(invocationKey{}).(*Invocation); ok {
		r.AddAttrs(slog.Group("invocation",
			slog.String("id", inv.ID),
			slog.String("operation", inv.Operation),
			slog.String("style", inv.Style),
		))
	}

	if a, ok := ctx.Value(attemptKey{}).(*Attempt); ok {
		r.AddAttrs(slog.Group("attempt",
			slog.Int("n", a.Number),
			slog.Int("max_tokens", a.MaxTokens),
		))
	}

	if b, ok := ctx.Value(backendCallKey{}).(*BackendCall); ok {
		r.AddAttrs(slog.Group("backend",
			slog.String("endpoint", b.Endpoint),
			slog.String("model", b.Model),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type invocationKey struct{}

// Invocation identifies one proxied call.
type Invocation struct {
	ID        string
	Operation string
	Style     string
}

func WithInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the invocation stored in ctx, if any.
func InvocationFrom(ctx context.Context) (*Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok
}

type attemptKey struct{}

type Attempt struct {
	Number    int
	MaxTokens int
}

func WithAttempt(ctx context.Context, a *Attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

type backendCallKey struct{}

type BackendCall struct {
	Endpoint string
	Model    string
}

func WithBackendCall(ctx context.Context, b *BackendCall) context.Context {
	return context.WithValue(ctx, backendCallKey{}, b)
}
