package gptproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/ggoodman/gptproxy-go/completion"
	"github.com/ggoodman/gptproxy-go/describe"
	"github.com/ggoodman/gptproxy-go/exemplar"
	"github.com/ggoodman/gptproxy-go/internal/jsonextract"
	"github.com/ggoodman/gptproxy-go/internal/logctx"
	"github.com/ggoodman/gptproxy-go/internal/prompt"
	"github.com/google/uuid"
)

// Operation declares one proxied call. Func is any value of the operation's
// function type, typically a nil function variable; only its type is used.
type Operation struct {
	Name   string
	Doc    string
	Func   any
	Params []string
}

// Proxy fulfills typed calls by prompting a completion backend and decoding
// its answer. A Proxy is safe for concurrent use.
type Proxy struct {
	backend    completion.Backend
	cfg        Config
	describer  *describe.Describer
	store      *exemplar.Store
	exampleLog exemplar.Log
	seed       []exemplar.Example
	logHandler slog.Handler
	log        *slog.Logger

	mu  sync.RWMutex
	ops map[string]*describe.OperationDescriptor

	metrics counters
}

// New constructs a Proxy over backend. When an example log is configured its
// contents are loaded before New returns.
func New(backend completion.Backend, opts ...Option) (*Proxy, error) {
	if backend == nil {
		return nil, errors.New("gptproxy: backend is required")
	}
	p := &Proxy{
		backend: backend,
		cfg:     DefaultConfig(),
		ops:     make(map[string]*describe.OperationDescriptor),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.cfg.validate(); err != nil {
		return nil, err
	}
	h := p.logHandler
	if h == nil {
		h = slog.DiscardHandler
	}
	p.log = slog.New(logctx.Handler{Handler: h})
	if p.describer == nil {
		p.describer = describe.New(describe.WithMaxDepth(p.cfg.SchemaDepth))
	}

	examples := append([]exemplar.Example(nil), p.seed...)
	if p.exampleLog != nil {
		ctx := context.Background()
		if p.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
		}
		loaded, err := p.exampleLog.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("gptproxy: load examples: %w", err)
		}
		examples = append(examples, loaded...)
	}
	p.store = exemplar.NewStore(examples...)
	p.seed = nil
	return p, nil
}

// Config returns the effective configuration.
func (p *Proxy) Config() Config { return p.cfg }

// Examples exposes the example store, for inspection and external trimming.
func (p *Proxy) Examples() *exemplar.Store { return p.store }

// Metrics returns a point-in-time copy of the invocation counters.
func (p *Proxy) Metrics() map[string]int64 { return p.metrics.snapshot() }

// Register adds op to the dispatch table. Registering the same name twice
// with an identical function type returns the existing descriptor.
func (p *Proxy) Register(op Operation) (*describe.OperationDescriptor, error) {
	if op.Func == nil {
		return nil, fmt.Errorf("gptproxy: operation %s: Func is required", op.Name)
	}
	desc, err := describe.NewOperation(op.Name, reflect.TypeOf(op.Func), op.Params, op.Doc)
	if err != nil {
		return nil, err
	}
	return p.register(desc)
}

func (p *Proxy) register(desc *describe.OperationDescriptor) (*describe.OperationDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.ops[desc.Name]; ok {
		if prev.FuncType() != desc.FuncType() {
			return nil, fmt.Errorf("gptproxy: operation %s already registered with type %v", desc.Name, prev.FuncType())
		}
		return prev, nil
	}
	p.ops[desc.Name] = desc
	return desc, nil
}

// Operation returns the registered descriptor for name.
func (p *Proxy) Operation(name string) (*describe.OperationDescriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.ops[name]
	return d, ok
}

// Invoke runs the named operation with args (context excluded) and returns the
// decoded result.
func (p *Proxy) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	desc, ok := p.Operation(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	if len(args) != len(desc.Params) {
		return nil, &InvalidArgumentsError{Operation: name, Reason: fmt.Sprintf("expected %d arguments, got %d", len(desc.Params), len(args))}
	}
	vals := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := desc.Params[i].Type
		if a == nil {
			vals[i] = reflect.Zero(pt)
			continue
		}
		v := reflect.ValueOf(a)
		if !v.Type().AssignableTo(pt) {
			return nil, &InvalidArgumentsError{Operation: name, Reason: fmt.Sprintf("argument %s: %v is not assignable to %v", desc.Params[i].Name, v.Type(), pt)}
		}
		vals[i] = v
	}
	out, err := p.invoke(ctx, desc, vals)
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

// Call is Invoke with a typed result.
func Call[R any](ctx context.Context, p *Proxy, name string, args ...any) (R, error) {
	var zero R
	v, err := p.Invoke(ctx, name, args...)
	if err != nil {
		return zero, err
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("gptproxy: %s returns %T, not %T", name, v, zero)
	}
	return r, nil
}

// buildRequest serializes the arguments and renders the schemas.
func (p *Proxy) buildRequest(desc *describe.OperationDescriptor, args []reflect.Value) (*prompt.Request, error) {
	req := &prompt.Request{
		Operation:       desc.Name,
		Description:     desc.Doc,
		OperationSchema: p.describer.DescribeOperation(desc, p.cfg.SchemaDepth),
		ResponseSchema:  p.describer.Describe(desc.Returns, p.cfg.SchemaDepth),
		Marker:          jsonextract.Opener(desc.Returns),
	}
	for i, a := range args {
		b, err := json.Marshal(a.Interface())
		if err != nil {
			return nil, &InvalidArgumentsError{Operation: desc.Name, Reason: fmt.Sprintf("argument %s: %v", desc.Params[i].Name, err)}
		}
		req.Args = append(req.Args, prompt.Arg{Name: desc.Params[i].Name, Value: string(b)})
	}
	return req, nil
}

// invoke drives one call through the prompt, complete, decode and retry loop.
func (p *Proxy) invoke(ctx context.Context, desc *describe.OperationDescriptor, args []reflect.Value) (reflect.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logctx.WithInvocation(ctx, &logctx.Invocation{
		ID:        uuid.NewString(),
		Operation: desc.Name,
		Style:     p.cfg.Style,
	})
	p.metrics.call(desc.Name)
	p.log.DebugContext(ctx, "proxy.invoke.start")

	req, err := p.buildRequest(desc, args)
	if err != nil {
		p.metrics.errors.Add(1)
		return reflect.Value{}, err
	}

	budget := p.cfg.budget()
	maxTokens := p.cfg.MaxTokens
	shrunk := false
	var lastText string
	var lastErr error

	for attempt := 1; attempt <= budget; {
		// Each attempt replays the examples stored at the time it is built.
		examples := exemplar.ForOperation(p.store.Snapshot(), desc.Name)
		actx := logctx.WithAttempt(ctx, &logctx.Attempt{Number: attempt, MaxTokens: maxTokens})
		p.metrics.attempts.Add(1)

		text, err := p.complete(actx, desc, req, examples, maxTokens)
		if err != nil {
			var mm *completion.ModelMaxExceededError
			if errors.As(err, &mm) && !shrunk && mm.ShrunkMaxTokens() > 0 {
				shrunk = true
				maxTokens = mm.ShrunkMaxTokens()
				p.metrics.modelMaxShrinks.Add(1)
				p.log.InfoContext(actx, "proxy.attempt.model_max_exceeded",
					slog.Int("limit", mm.Limit),
					slog.Int("message_tokens", mm.MessageTokens),
					slog.Int("max_tokens", maxTokens),
				)
				continue
			}
			p.metrics.errors.Add(1)
			p.log.WarnContext(actx, "proxy.invoke.failed", slog.String("err", err.Error()))
			return reflect.Value{}, err
		}

		v, derr := jsonextract.Decode(text, desc.Returns)
		if derr == nil {
			p.record(ctx, desc, req, text)
			p.log.DebugContext(actx, "proxy.invoke.success")
			return v, nil
		}
		p.metrics.decodeErrors.Add(1)
		p.log.DebugContext(actx, "proxy.attempt.decode_failed", slog.String("err", derr.Error()))
		lastText, lastErr = text, derr
		attempt++
	}

	p.metrics.errors.Add(1)
	p.log.WarnContext(ctx, "proxy.invoke.exhausted", slog.Int("attempts", budget))
	return reflect.Value{}, &DecodeExhaustedError{
		Operation:    desc.Name,
		Attempts:     budget,
		LastResponse: lastText,
		Err:          lastErr,
	}
}

// complete renders the prompt in the configured style, moderates it and calls
// the backend. The returned text is ready for decoding.
func (p *Proxy) complete(ctx context.Context, desc *describe.OperationDescriptor, req *prompt.Request, examples []exemplar.Example, maxTokens int) (string, error) {
	var (
		outbound string
		call     func(context.Context) (*completion.Result, error)
		prefix   string
	)
	switch p.cfg.style() {
	case completion.StyleCompletion:
		text, err := prompt.Completion(req, examples)
		if err != nil {
			return "", err
		}
		outbound, prefix = text, req.Opener()
		creq := &completion.CompletionRequest{
			Model:       p.cfg.Model,
			Prompt:      text,
			MaxTokens:   maxTokens,
			Temperature: p.cfg.Temperature,
		}
		call = func(ctx context.Context) (*completion.Result, error) { return p.backend.Complete(ctx, creq) }
	default:
		msgs, err := prompt.Chat(req, examples)
		if err != nil {
			return "", err
		}
		outbound = prompt.Flatten(msgs)
		creq := &completion.ChatRequest{
			Model:       p.cfg.Model,
			Messages:    msgs,
			MaxTokens:   maxTokens,
			Temperature: p.cfg.Temperature,
		}
		if p.cfg.StructuredOutput {
			creq.ResponseFormat = &completion.ResponseFormat{Name: desc.Name, Schema: p.describer.JSONSchema(desc.Returns)}
		}
		call = func(ctx context.Context) (*completion.Result, error) { return p.backend.Chat(ctx, creq) }
	}

	if p.cfg.Moderation {
		p.metrics.moderations.Add(1)
		_, err := withTimeout(ctx, p, desc.Name, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.backend.Moderate(ctx, outbound)
		})
		if err != nil {
			return "", err
		}
	}

	res, err := withTimeout(ctx, p, desc.Name, call)
	if err != nil {
		return "", err
	}
	p.metrics.tokens.Add(int64(res.Usage.TotalTokens))
	p.metrics.promptTokens.Add(int64(res.Usage.PromptTokens))
	p.metrics.completionTokens.Add(int64(res.Usage.CompletionTokens))
	return prefix + res.Text, nil
}

// withTimeout runs fn under the configured per-call timeout. A call that
// outlives the deadline is abandoned and its eventual result discarded.
func withTimeout[T any](ctx context.Context, p *Proxy, op string, fn func(context.Context) (T, error)) (T, error) {
	if p.cfg.Timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, p.timedOut(ctx, op)
		}
		return r.v, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, p.timedOut(ctx, op)
	}
}

func (p *Proxy) timedOut(ctx context.Context, op string) error {
	p.metrics.timeouts.Add(1)
	p.log.WarnContext(ctx, "proxy.attempt.timeout", slog.Duration("timeout", p.cfg.Timeout))
	return &TimeoutError{Operation: op, Timeout: p.cfg.Timeout}
}

// record stores a verified response as an example.
func (p *Proxy) record(ctx context.Context, desc *describe.OperationDescriptor, req *prompt.Request, text string) {
	if !p.cfg.RecordExamples {
		return
	}
	ex := exemplar.Example{
		Operation: desc.Name,
		Arguments: req.ArgMap(),
		Response:  jsonextract.ExtractFor(text, desc.Returns),
	}
	p.store.Append(ex)
	p.metrics.examples.Add(1)
	if p.exampleLog == nil {
		return
	}
	if err := p.exampleLog.Append(context.WithoutCancel(ctx), ex); err != nil {
		p.log.WarnContext(ctx, "proxy.example.persist_failed", slog.String("err", err.Error()))
	}
}
