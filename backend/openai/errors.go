package openai

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ggoodman/gptproxy-go/completion"
)

// APIError is an error reported by the API that has no more specific
// mapping.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("openai: %d %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("openai: %d: %s", e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const overloadedPrefix = "That model is currently overloaded with other requests."

// Context-length messages, chat and legacy completion wording.
var maxTokensPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^This model's maximum context length is (\d+) tokens. However, you requested (\d+) tokens \((\d+) in the messages, (\d+) in the completion\)`),
	regexp.MustCompile(`^This model's maximum context length is (\d+) tokens, however you requested (\d+) tokens \((\d+) in your prompt; (\d+) for the completion\)`),
}

// classify maps an API error message onto the completion error taxonomy.
func classify(status int, typ, msg string) error {
	if strings.HasPrefix(msg, overloadedPrefix) {
		return &completion.OverloadedError{Message: msg}
	}
	for _, re := range maxTokensPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		n := make([]int, 4)
		for i := range n {
			n[i], _ = strconv.Atoi(m[i+1]) // \d+ always parses
		}
		return &completion.ModelMaxExceededError{
			Limit:            n[0],
			RequestTokens:    n[1],
			MessageTokens:    n[2],
			CompletionTokens: n[3],
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Type: typ, Message: msg}
}
