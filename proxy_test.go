package gptproxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/gptproxy-go/backend/backendtest"
	"github.com/ggoodman/gptproxy-go/completion"
	"github.com/ggoodman/gptproxy-go/exemplar"
)

type outline struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections"`
}

type rating struct {
	Score int `json:"score"`
}

func (r rating) Validate() error {
	if r.Score < 1 || r.Score > 10 {
		return fmt.Errorf("score %d out of range", r.Score)
	}
	return nil
}

type essays struct {
	Outline func(context.Context, string) (*outline, error) `proxy:"essayOutline" params:"thesis" description:"Outline an essay"`
	Rate    func(ctx context.Context, essay string) (rating, error)
	Ignored func() `proxy:"-"`
	note    string
}

const okOutline = `{"title":"Go","sections":["intro","body"]}`

func newProxy(t *testing.T, b completion.Backend, opts ...Option) (*Proxy, *essays) {
	t.Helper()
	base := []Option{WithModeration(false), WithTimeout(time.Second)}
	p, err := New(b, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var e essays
	if err := p.Bind(&e); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return p, &e
}

func TestBindAndCall(t *testing.T) {
	b := backendtest.New(backendtest.Step{
		Text:  "Sure! " + okOutline + " Enjoy.",
		Usage: completion.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	p, e := newProxy(t, b)

	got, err := e.Outline(context.Background(), "Go is fun")
	if err != nil {
		t.Fatalf("Outline: %v", err)
	}
	if got.Title != "Go" || len(got.Sections) != 2 {
		t.Fatalf("unexpected outline: %+v", got)
	}
	if e.Ignored != nil {
		t.Fatalf("expected skipped field to stay nil")
	}

	calls := b.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 backend call, got %d", len(calls))
	}
	msgs := calls[0].Messages
	if !strings.Contains(msgs[0].Content, "essayOutline") || !strings.Contains(msgs[0].Content, "Outline an essay") {
		t.Fatalf("system message missing operation framing:\n%s", msgs[0].Content)
	}
	if !strings.Contains(msgs[len(msgs)-1].Content, `"thesis": "Go is fun"`) {
		t.Fatalf("final turn missing arguments:\n%s", msgs[len(msgs)-1].Content)
	}
	if calls[0].Model != "gpt-3.5-turbo" || calls[0].MaxTokens != 3500 {
		t.Fatalf("unexpected model parameters: %+v", calls[0])
	}

	m := p.Metrics()
	if m["calls"] != 1 || m["calls.essayOutline"] != 1 || m["examples"] != 1 || m["tokens"] != 15 || m["prompt_tokens"] != 10 {
		t.Fatalf("unexpected metrics: %v", m)
	}
	if ex := p.Examples().Snapshot(); len(ex) != 1 || ex[0].Response != okOutline || ex[0].Operation != "essayOutline" {
		t.Fatalf("unexpected recorded example: %+v", ex)
	}
}

func TestRetryBound(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: "I'm sorry, I cannot do that."})
	p, e := newProxy(t, b, WithRetries(3))

	_, err := e.Outline(context.Background(), "x")
	var de *DecodeExhaustedError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeExhaustedError, got %v", err)
	}
	if de.Attempts != 3 || de.LastResponse != "I'm sorry, I cannot do that." {
		t.Fatalf("unexpected error detail: %+v", de)
	}
	if n := len(b.Calls()); n != 3 {
		t.Fatalf("expected exactly 3 backend calls, got %d", n)
	}
	if p.Examples().Len() != 0 {
		t.Fatalf("failed attempts must not be recorded")
	}
	m := p.Metrics()
	if m["decode_errors"] != 3 || m["errors"] != 1 {
		t.Fatalf("unexpected metrics: %v", m)
	}
}

func TestRetryBudgetBelowOne(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: "nope"})
	_, e := newProxy(t, b, WithRetries(0))

	if _, err := e.Outline(context.Background(), "x"); err == nil {
		t.Fatalf("expected failure")
	}
	if n := len(b.Calls()); n != 1 {
		t.Fatalf("expected a single backend call, got %d", n)
	}
}

func TestValidationFailureRetries(t *testing.T) {
	b := backendtest.New(
		backendtest.Step{Text: `{"score":42}`},
		backendtest.Step{Text: `{"score":7}`},
	)
	_, e := newProxy(t, b, WithRetries(2))

	got, err := e.Rate(context.Background(), "essay")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if got.Score != 7 || len(b.Calls()) != 2 {
		t.Fatalf("expected second attempt to succeed, got %+v after %d calls", got, len(b.Calls()))
	}
}

func TestModelMaxShrink(t *testing.T) {
	b := backendtest.New(
		backendtest.Step{Err: &completion.ModelMaxExceededError{Limit: 4097, RequestTokens: 4200, MessageTokens: 100, CompletionTokens: 4000}},
		backendtest.Step{Text: okOutline},
	)
	// A single-attempt budget proves the reissue is not charged against it.
	p, e := newProxy(t, b, WithMaxTokens(4000), WithRetries(1))

	if _, err := e.Outline(context.Background(), "x"); err != nil {
		t.Fatalf("Outline: %v", err)
	}
	calls := b.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 backend calls, got %d", len(calls))
	}
	if calls[0].MaxTokens != 4000 || calls[1].MaxTokens != 3996 {
		t.Fatalf("expected max tokens 4000 then 3996, got %d then %d", calls[0].MaxTokens, calls[1].MaxTokens)
	}
	if p.Metrics()["model_max_shrinks"] != 1 {
		t.Fatalf("expected one shrink, got %v", p.Metrics())
	}
}

func TestSecondModelMaxIsFatal(t *testing.T) {
	mm := &completion.ModelMaxExceededError{Limit: 4097, RequestTokens: 4200, MessageTokens: 100, CompletionTokens: 4000}
	b := backendtest.New(backendtest.Step{Err: mm}, backendtest.Step{Err: mm}, backendtest.Step{Text: okOutline})
	_, e := newProxy(t, b, WithRetries(3))

	_, err := e.Outline(context.Background(), "x")
	var got *completion.ModelMaxExceededError
	if !errors.As(err, &got) {
		t.Fatalf("expected ModelMaxExceededError, got %v", err)
	}
	if n := len(b.Calls()); n != 2 {
		t.Fatalf("expected 2 backend calls, got %d", n)
	}
}

func TestExampleReplay(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: okOutline})
	_, e := newProxy(t, b)
	ctx := context.Background()

	const n = 3
	for i := 0; i <= n; i++ {
		if _, err := e.Outline(ctx, fmt.Sprintf("thesis-%d", i)); err != nil {
			t.Fatalf("Outline %d: %v", i, err)
		}
	}
	calls := b.Calls()
	msgs := calls[n].Messages
	if len(msgs) != 2+2*n {
		t.Fatalf("expected %d messages (system, %d exemplar pairs, request), got %d", 2+2*n, n, len(msgs))
	}
	for i := 0; i < n; i++ {
		user, assistant := msgs[1+2*i], msgs[2+2*i]
		if user.Role != completion.RoleUser || !strings.Contains(user.Content, fmt.Sprintf(`"thesis-%d"`, i)) {
			t.Fatalf("exemplar %d out of order: %+v", i, user)
		}
		if assistant.Role != completion.RoleAssistant || assistant.Content != okOutline {
			t.Fatalf("exemplar %d response mismatch: %+v", i, assistant)
		}
	}
}

func TestExamplesFilteredByOperation(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: `{"score":5}`})
	_, e := newProxy(t, b, WithExamples(
		exemplar.Example{Operation: "essayOutline", Arguments: map[string]string{"thesis": `"a"`}, Response: okOutline},
		exemplar.Example{Arguments: map[string]string{"essay": `"b"`}, Response: `{"score":3}`},
	))

	if _, err := e.Rate(context.Background(), "e"); err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if got := len(b.Calls()[0].Messages); got != 4 {
		t.Fatalf("expected only the operation-agnostic example to replay, got %d messages", got)
	}
}

func TestModerationFatal(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: okOutline})
	b.ModerateWith(func(string) error {
		return &completion.ModerationFlaggedError{Categories: []string{"violence"}}
	})
	p, e := newProxy(t, b, WithModeration(true), WithRetries(3))

	_, err := e.Outline(context.Background(), "x")
	var mf *completion.ModerationFlaggedError
	if !errors.As(err, &mf) || mf.Categories[0] != "violence" {
		t.Fatalf("expected ModerationFlaggedError, got %v", err)
	}
	if len(b.Calls()) != 0 || len(b.Moderations()) != 1 {
		t.Fatalf("flagged prompt must not reach the backend or be retried: calls=%d moderations=%d", len(b.Calls()), len(b.Moderations()))
	}
	if p.Metrics()["moderations"] != 1 {
		t.Fatalf("unexpected metrics: %v", p.Metrics())
	}
}

func TestModerationBeforeEveryAttempt(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: "not json"})
	_, e := newProxy(t, b, WithModeration(true), WithRetries(2))

	_, _ = e.Outline(context.Background(), "x")
	mods := b.Moderations()
	if len(mods) != 2 {
		t.Fatalf("expected a moderation check per attempt, got %d", len(mods))
	}
	if !strings.Contains(mods[0], `"thesis": "x"`) {
		t.Fatalf("moderated text missing request:\n%s", mods[0])
	}
}

func TestTimeout(t *testing.T) {
	b := backendtest.New(backendtest.Step{Text: okOutline, Delay: time.Second})
	p, e := newProxy(t, b, WithTimeout(20*time.Millisecond))

	_, err := e.Outline(context.Background(), "x")
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected TimeoutError to unwrap to DeadlineExceeded")
	}
	if p.Examples().Len() != 0 {
		t.Fatalf("timed out call must not record an example")
	}
	if p.Metrics()["timeouts"] != 1 {
		t.Fatalf("unexpected metrics: %v", p.Metrics())
	}
}

func TestTransportErrorNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	b := backendtest.New(backendtest.Step{Err: boom}, backendtest.Step{Text: okOutline})
	_, e := newProxy(t, b, WithRetries(3))

	if _, err := e.Outline(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if n := len(b.Calls()); n != 1 {
		t.Fatalf("expected a single backend call, got %d", n)
	}
}

func TestCompletionStyle(t *testing.T) {
	// The prompt ends with the opening brace, so the backend continues from it.
	b := backendtest.New(backendtest.Step{Text: `"title":"Go","sections":[]}` + "\n\nMethod: next"})
	p, e := newProxy(t, b, WithStyle(completion.StyleCompletion))

	got, err := e.Outline(context.Background(), "x")
	if err != nil {
		t.Fatalf("Outline: %v", err)
	}
	if got.Title != "Go" {
		t.Fatalf("unexpected outline: %+v", got)
	}
	calls := b.Calls()
	if calls[0].Style != completion.StyleCompletion || !strings.HasSuffix(calls[0].Prompt, "{") {
		t.Fatalf("unexpected completion call: %+v", calls[0])
	}
	if resp := p.Examples().Snapshot()[0].Response; resp != `{"title":"Go","sections":[]}` {
		t.Fatalf("unexpected recorded response %q", resp)
	}
}

func TestStructuredOutput(t *testing.T) {
	b := backendtest.New(backendtest.Step{Text: okOutline})
	_, e := newProxy(t, b, WithStructuredOutput(true))

	if _, err := e.Outline(context.Background(), "x"); err != nil {
		t.Fatalf("Outline: %v", err)
	}
	rf := b.Calls()[0].ResponseFormat
	if rf == nil || rf.Name != "essayOutline" || !strings.Contains(string(rf.Schema), "sections") {
		t.Fatalf("unexpected response format: %+v", rf)
	}
}

func TestRecordingDisabled(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: okOutline})
	p, e := newProxy(t, b, WithRecordExamples(false))

	for i := 0; i < 2; i++ {
		if _, err := e.Outline(context.Background(), "x"); err != nil {
			t.Fatalf("Outline: %v", err)
		}
	}
	if p.Examples().Len() != 0 || len(b.Calls()[1].Messages) != 2 {
		t.Fatalf("expected no examples to be recorded or replayed")
	}
}

func TestExampleLog(t *testing.T) {
	log := exemplar.NewMemoryLog(exemplar.Example{Arguments: map[string]string{"thesis": `"seed"`}, Response: okOutline})
	b := backendtest.New(backendtest.Step{Text: okOutline})
	_, e := newProxy(t, b, WithExampleLog(log))

	if _, err := e.Outline(context.Background(), "x"); err != nil {
		t.Fatalf("Outline: %v", err)
	}
	if got := len(b.Calls()[0].Messages); got != 4 {
		t.Fatalf("expected the logged example to replay, got %d messages", got)
	}
	persisted, err := log.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(persisted) != 2 || persisted[1].Operation != "essayOutline" {
		t.Fatalf("expected the new example to be persisted: %+v", persisted)
	}
}

func TestRegisterAndCall(t *testing.T) {
	b := backendtest.New(backendtest.Step{Text: `["Nile","Amazon"]`})
	p, err := New(b, WithModeration(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Register(Operation{
		Name:   "topTen",
		Doc:    "List the ten most notable items",
		Func:   (func(string) ([]string, error))(nil),
		Params: []string{"subject"},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	items, err := Call[[]string](context.Background(), p, "topTen", "rivers")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(items) != 2 || items[0] != "Nile" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestSliceOfObjectsReturn(t *testing.T) {
	for _, style := range []completion.Style{completion.StyleChat, completion.StyleCompletion} {
		text := `Here they are: [{"title":"a","sections":[]},{"title":"b","sections":["x"]}]`
		if style == completion.StyleCompletion {
			// The backend continues after the opening bracket.
			text = `{"title":"a","sections":[]},{"title":"b","sections":["x"]}]`
		}
		b := backendtest.New(backendtest.Step{Text: text})
		p, err := New(b, WithModeration(false), WithStyle(style))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Register(Operation{
			Name:   "outlines",
			Func:   (func(context.Context, string) ([]outline, error))(nil),
			Params: []string{"subject"},
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}

		got, err := Call[[]outline](context.Background(), p, "outlines", "go")
		if err != nil {
			t.Fatalf("%s: Call: %v", style, err)
		}
		if len(got) != 2 || got[1].Title != "b" || got[1].Sections[0] != "x" {
			t.Fatalf("%s: unexpected outlines: %+v", style, got)
		}
		if n := len(b.Calls()); n != 1 {
			t.Fatalf("%s: expected 1 backend call, got %d", style, n)
		}
		if style == completion.StyleCompletion && !strings.HasSuffix(b.Calls()[0].Prompt, "[") {
			t.Fatalf("expected completion prompt to open an array:\n%s", b.Calls()[0].Prompt)
		}
		want := `[{"title":"a","sections":[]},{"title":"b","sections":["x"]}]`
		if resp := p.Examples().Snapshot()[0].Response; resp != want {
			t.Fatalf("%s: unexpected recorded response %q", style, resp)
		}
	}
}

func TestInvokeErrors(t *testing.T) {
	p, _ := newProxy(t, backendtest.New())
	ctx := context.Background()

	if _, err := p.Invoke(ctx, "missing"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
	var ia *InvalidArgumentsError
	if _, err := p.Invoke(ctx, "essayOutline"); !errors.As(err, &ia) {
		t.Fatalf("expected InvalidArgumentsError for arity, got %v", err)
	}
	if _, err := p.Invoke(ctx, "essayOutline", 42); !errors.As(err, &ia) {
		t.Fatalf("expected InvalidArgumentsError for type, got %v", err)
	}
	if _, err := Call[string](ctx, p, "missing"); err == nil {
		t.Fatalf("expected Call to fail for unknown operation")
	}
}

func TestRegisterConflict(t *testing.T) {
	p, _ := newProxy(t, backendtest.New())
	_, err := p.Register(Operation{Name: "essayOutline", Func: (func(int) (string, error))(nil)})
	if err == nil {
		t.Fatalf("expected conflicting registration to fail")
	}
	if _, err := p.Register(Operation{Name: "nothing"}); err == nil {
		t.Fatalf("expected missing Func to fail")
	}
}

func TestBindErrors(t *testing.T) {
	p, err := New(backendtest.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var be *BindError

	if err := p.Bind(essays{}); err == nil {
		t.Fatalf("expected non-pointer to fail")
	}
	var empty struct{ Name string }
	if err := p.Bind(&empty); !errors.As(err, &be) {
		t.Fatalf("expected BindError for struct without funcs, got %v", err)
	}
	var bad struct {
		Sum func(int, int) int
	}
	if err := p.Bind(&bad); !errors.As(err, &be) || be.Field != "Sum" {
		t.Fatalf("expected BindError for Sum, got %v", err)
	}
	var mismatch struct {
		Sum func(int, int) (int, error) `params:"a"`
	}
	if err := p.Bind(&mismatch); !errors.As(err, &be) {
		t.Fatalf("expected BindError for parameter name mismatch, got %v", err)
	}
}

func TestConcurrentInvocations(t *testing.T) {
	b := backendtest.New()
	b.Repeat(backendtest.Step{Text: okOutline, Usage: completion.Usage{TotalTokens: 1}})
	p, e := newProxy(t, b)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Outline(context.Background(), fmt.Sprintf("t%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Outline: %v", err)
	}
	m := p.Metrics()
	if m["calls"] != n || m["tokens"] != n || p.Examples().Len() != n {
		t.Fatalf("unexpected state after concurrent calls: metrics=%v examples=%d", m, p.Examples().Len())
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected nil backend to fail")
	}
	if _, err := New(backendtest.New(), WithStyle("poetry")); err == nil {
		t.Fatalf("expected unknown style to fail")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("GPTPROXY_MODEL", "gpt-4")
	t.Setenv("GPTPROXY_RETRIES", "5")
	t.Setenv("GPTPROXY_STYLE", "completion")
	t.Setenv("GPTPROXY_MODERATION", "false")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Model != "gpt-4" || cfg.Retries != 5 || cfg.Style != "completion" || cfg.Moderation {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.MaxTokens != 3500 || cfg.Timeout != 3*time.Minute || cfg.SchemaDepth != 8 {
		t.Fatalf("expected defaults for unset variables: %+v", cfg)
	}

	t.Setenv("GPTPROXY_STYLE", "poetry")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected invalid style to fail")
	}
}
