// Package openai implements completion.Backend over the OpenAI HTTP API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"unicode"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/gptproxy-go/completion"
	"github.com/ggoodman/gptproxy-go/internal/logctx"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 16 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

// Client is a completion.Backend. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger

	chats       atomic.Int64
	completions atomic.Int64
	moderations atomic.Int64
	models      atomic.Int64
	tokens      atomic.Int64

	transcriptions atomic.Int64
	renders        atomic.Int64
	edits          atomic.Int64
}

var _ completion.Backend = (*Client)(nil)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	h := cfg.LogHandler
	if h == nil {
		h = slog.DiscardHandler
	}
	c := &Client{
		cfg:  cfg,
		http: cfg.HTTPClient,
		log:  slog.New(logctx.Handler{Handler: h}),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Metrics returns request and token counters.
func (c *Client) Metrics() map[string]int64 {
	return map[string]int64{
		"chats":       c.chats.Load(),
		"completions": c.completions.Load(),
		"moderations": c.moderations.Load(),
		"models":      c.models.Load(),
		"tokens":      c.tokens.Load(),

		"transcriptions": c.transcriptions.Load(),
		"renders":        c.renders.Load(),
		"edits":          c.edits.Load(),
	}
}

// wire types

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage completion.Usage `json:"usage"`
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage completion.Usage `json:"usage"`
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Chat implements completion.Backend.
func (c *Client) Chat(ctx context.Context, req *completion.ChatRequest) (*completion.Result, error) {
	if err := completion.ValidateChat(req); err != nil {
		return nil, err
	}
	c.chats.Add(1)
	body := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: c.restrict(m.Content)})
	}
	if rf := req.ResponseFormat; rf != nil && len(rf.Schema) > 0 {
		body.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: rf.Name, Schema: rf.Schema},
		}
	}

	var out chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", req.Model, body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: chat response has no choices")
	}
	c.tokens.Add(int64(out.Usage.TotalTokens))
	return &completion.Result{
		Text:         out.Choices[0].Message.Content,
		Model:        out.Model,
		FinishReason: out.Choices[0].FinishReason,
		Usage:        out.Usage,
	}, nil
}

// Complete implements completion.Backend.
func (c *Client) Complete(ctx context.Context, req *completion.CompletionRequest) (*completion.Result, error) {
	if err := completion.ValidateCompletion(req); err != nil {
		return nil, err
	}
	c.completions.Add(1)
	body := completionRequest{
		Model:       req.Model,
		Prompt:      c.restrict(req.Prompt),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}

	var out completionResponse
	if err := c.do(ctx, http.MethodPost, "/completions", req.Model, body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: completion response has no choices")
	}
	c.tokens.Add(int64(out.Usage.TotalTokens))
	return &completion.Result{
		Text:         out.Choices[0].Text,
		Model:        out.Model,
		FinishReason: out.Choices[0].FinishReason,
		Usage:        out.Usage,
	}, nil
}

// Moderate implements completion.Backend.
func (c *Client) Moderate(ctx context.Context, text string) error {
	c.moderations.Add(1)
	var out moderationResponse
	if err := c.do(ctx, http.MethodPost, "/moderations", "", moderationRequest{Input: c.restrict(text)}, &out); err != nil {
		return err
	}
	for _, r := range out.Results {
		if !r.Flagged {
			continue
		}
		var cats []string
		for name, hit := range r.Categories {
			if hit {
				cats = append(cats, name)
			}
		}
		sort.Strings(cats)
		return &completion.ModerationFlaggedError{Categories: cats}
	}
	return nil
}

// Models lists the model ids available to the API key.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	c.models.Add(1)
	var out modelList
	if err := c.do(ctx, http.MethodGet, "/models", "", nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Client) do(ctx context.Context, method, path, model string, in, out any) error {
	if in == nil {
		return c.send(ctx, method, path, model, nil, "", out)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("openai: encode request: %w", err)
	}
	return c.send(ctx, method, path, model, bytes.NewReader(b), "application/json", out)
}

// send issues one request with an already encoded body and decodes the JSON
// answer into out.
func (c *Client) send(ctx context.Context, method, path, model string, body io.Reader, contentType string, out any) error {
	ctx = logctx.WithBackendCall(ctx, &logctx.BackendCall{Endpoint: path, Model: model})
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("openai: rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.log.DebugContext(ctx, "openai.request.start")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openai: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("openai: read response: %w", err)
	}
	c.log.DebugContext(ctx, "openai.request.done", slog.Int("status", resp.StatusCode), slog.Int("bytes", len(data)))

	// Parameters such as charset do not affect the decision.
	ctype := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	bare := contenttype.MediaType{Type: ctype.Type, Subtype: ctype.Subtype}
	isJSON := bare.Matches(jsonMediaType)
	if isJSON {
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error != nil {
			return classify(resp.StatusCode, env.Error.Type, env.Error.Message)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return classify(resp.StatusCode, "", "")
	}
	if !isJSON {
		return fmt.Errorf("openai: unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}

func (c *Client) restrict(s string) string {
	if !c.cfg.ASCIIOnly {
		return s
	}
	return restrictASCII(s)
}

// restrictASCII decomposes s, drops combining marks and then drops every
// remaining non-ASCII rune.
func restrictASCII(s string) string {
	// Chains carry state, so each call builds its own.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
