package completion

import (
	"errors"
	"fmt"
	"strings"
)

// ModelMaxExceededError reports that a request exceeded the model's context
// length. The fields mirror what providers report: the model limit, the total
// tokens requested, the share consumed by the prompt/messages, and the share
// requested for the completion.
type ModelMaxExceededError struct {
	Limit            int
	RequestTokens    int
	MessageTokens    int
	CompletionTokens int
}

func (e *ModelMaxExceededError) Error() string {
	return fmt.Sprintf("model maximum context length %d exceeded: requested %d tokens (%d in the messages, %d in the completion)",
		e.Limit, e.RequestTokens, e.MessageTokens, e.CompletionTokens)
}

// ShrunkMaxTokens returns the largest response budget that fits alongside the
// messages: Limit - MessageTokens - 1.
func (e *ModelMaxExceededError) ShrunkMaxTokens() int {
	return e.Limit - e.MessageTokens - 1
}

// ModerationFlaggedError reports that outbound content was rejected by the
// moderation check.
type ModerationFlaggedError struct {
	Categories []string
}

func (e *ModerationFlaggedError) Error() string {
	if len(e.Categories) == 0 {
		return "moderation flagged this request due to ???"
	}
	return "moderation flagged this request due to " + strings.Join(e.Categories, ", ")
}

// OverloadedError reports that the backend refused the request because the
// model is overloaded.
type OverloadedError struct {
	Message string
}

func (e *OverloadedError) Error() string {
	if e.Message == "" {
		return "model is currently overloaded"
	}
	return e.Message
}

// IsRecoverable reports whether err is a condition the proxy may recover from
// by narrowing the request (currently only context-length overflows).
func IsRecoverable(err error) bool {
	var mm *ModelMaxExceededError
	return errors.As(err, &mm)
}
