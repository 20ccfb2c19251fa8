package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Style selects how an invocation is framed for the backend.
type Style string

const (
	// StyleChat frames the invocation as a system message followed by
	// alternating user/assistant exemplar turns.
	StyleChat Style = "chat"
	// StyleCompletion frames the invocation as a single prompt that ends
	// with the opening brace of the expected JSON body.
	StyleCompletion Style = "completion"
)

// Role identifies the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Convenience helpers.
func SystemText(s string) Message    { return Message{Role: RoleSystem, Content: s} }
func UserText(s string) Message      { return Message{Role: RoleUser, Content: s} }
func AssistantText(s string) Message { return Message{Role: RoleAssistant, Content: s} }

// CompletionRequest is a raw text completion request.
type CompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

// ResponseFormat optionally asks a chat backend to constrain its output to a
// JSON schema. Backends that do not support structured output ignore it.
type ResponseFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// ChatRequest is a chat-message completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Usage reports token accounting for one backend call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the backend's answer to either request style.
type Result struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// Backend executes completion requests against a generative text service.
//
// Implementations must be safe for concurrent use and must honor ctx
// cancellation. Context-length failures are reported as
// *ModelMaxExceededError and moderation rejections as
// *ModerationFlaggedError; every other failure is treated as fatal by callers.
type Backend interface {
	// Complete runs a raw text completion.
	Complete(ctx context.Context, req *CompletionRequest) (*Result, error)

	// Chat runs a chat-message completion.
	Chat(ctx context.Context, req *ChatRequest) (*Result, error)

	// Moderate checks outbound text. It returns nil when the text is
	// acceptable and *ModerationFlaggedError when it is not.
	Moderate(ctx context.Context, text string) error
}

// ValidateChat performs sanity checks on a ChatRequest before it is sent.
func ValidateChat(r *ChatRequest) error {
	if r == nil {
		return errors.New("completion: nil chat request")
	}
	if len(r.Messages) == 0 {
		return errors.New("completion: no messages provided")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("completion: invalid role %q at message %d", m.Role, i)
		}
	}
	if r.MaxTokens < 0 {
		return errors.New("completion: negative max tokens")
	}
	return nil
}

// ValidateCompletion performs sanity checks on a CompletionRequest.
func ValidateCompletion(r *CompletionRequest) error {
	if r == nil {
		return errors.New("completion: nil completion request")
	}
	if r.Prompt == "" {
		return errors.New("completion: empty prompt")
	}
	if r.MaxTokens < 0 {
		return errors.New("completion: negative max tokens")
	}
	return nil
}
