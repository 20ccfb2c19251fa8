// Package prompt composes the backend input for one proxied invocation.
package prompt

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/ggoodman/gptproxy-go/completion"
	"github.com/ggoodman/gptproxy-go/exemplar"
)

// ResponseMarker opens the JSON body at the end of a completion-style prompt
// when the request names no other opener. Backend text must be re-prefixed
// with the opener before decoding.
const ResponseMarker = "{"

// Arg is one serialized argument in parameter order.
type Arg struct {
	Name  string
	Value string // JSON text
}

// Request holds everything needed to render one invocation.
type Request struct {
	Operation   string
	Description string
	Args        []Arg
	// OperationSchema is the rendered operation description (parameters and
	// response). ResponseSchema is the rendered return type alone.
	OperationSchema string
	ResponseSchema  string
	// Marker opens the expected JSON body: "[" for array responses. Empty
	// means ResponseMarker.
	Marker string
}

// Opener returns the effective response marker.
func (r *Request) Opener() string {
	if r.Marker == "" {
		return ResponseMarker
	}
	return r.Marker
}

// ArgNames returns argument names in parameter order.
func (r *Request) ArgNames() []string {
	names := make([]string, len(r.Args))
	for i, a := range r.Args {
		names[i] = a.Name
	}
	return names
}

// ArgMap returns the arguments keyed by name, as recorded in examples.
func (r *Request) ArgMap() map[string]string {
	m := make(map[string]string, len(r.Args))
	for _, a := range r.Args {
		m[a.Name] = a.Value
	}
	return m
}

// FormatArgs renders arguments as a JSON object in parameter order.
func FormatArgs(args []Arg) string {
	if len(args) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{")
	for i, a := range args {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n  ")
		b.WriteString(quote(a.Name))
		b.WriteString(": ")
		b.WriteString(indent(a.Value, "  "))
	}
	b.WriteString("\n}")
	return b.String()
}

// formatExampleArgs renders a recorded argument map in the order of names,
// followed by any names the current request does not know, sorted.
func formatExampleArgs(names []string, m map[string]string) string {
	args := make([]Arg, 0, len(m))
	used := make(map[string]struct{}, len(m))
	for _, n := range names {
		if v, ok := m[n]; ok {
			args = append(args, Arg{Name: n, Value: v})
			used[n] = struct{}{}
		}
	}
	var rest []string
	for n := range m {
		if _, ok := used[n]; !ok {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	for _, n := range rest {
		args = append(args, Arg{Name: n, Value: m[n]})
	}
	return FormatArgs(args)
}

func validate(req *Request) error {
	if req == nil {
		return errors.New("internal/prompt: nil request")
	}
	if req.Operation == "" {
		return errors.New("internal/prompt: operation name is required")
	}
	return nil
}

// Chat renders req as a system message, one user/assistant pair per example
// in the given order, and the new user turn.
func Chat(req *Request, examples []exemplar.Example) ([]completion.Message, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	names := req.ArgNames()

	var sys strings.Builder
	sys.WriteString("You are a JSON-RPC Service serving the following method:\n")
	sys.WriteString(req.Operation)
	if req.Description != "" {
		sys.WriteString("\n")
		sys.WriteString(req.Description)
	}
	if len(names) > 0 {
		sys.WriteString("\nRequests contain the following arguments:\n  ")
		sys.WriteString(strings.Join(names, "\n  "))
	}
	if req.OperationSchema != "" {
		sys.WriteString("\nMethod schema:\n")
		sys.WriteString(req.OperationSchema)
	}
	sys.WriteString("\nResponses are of type:\n")
	sys.WriteString(req.ResponseSchema)
	if req.Opener() == "[" {
		sys.WriteString("\nResponses are expected to be a single JSON array")
	} else {
		sys.WriteString("\nResponses are expected to be a single JSON object")
	}
	sys.WriteString("\nAll input arguments are optional")

	msgs := make([]completion.Message, 0, 2+2*len(examples))
	msgs = append(msgs, completion.SystemText(sys.String()))
	for _, ex := range examples {
		msgs = append(msgs,
			completion.UserText(formatExampleArgs(names, ex.Arguments)),
			completion.AssistantText(ex.Response),
		)
	}
	msgs = append(msgs, completion.UserText(FormatArgs(req.Args)))
	return msgs, nil
}

// Completion renders req as a single prompt ending with the request's opener.
func Completion(req *Request, examples []exemplar.Example) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	names := req.ArgNames()

	var b strings.Builder
	b.WriteString("Method: ")
	b.WriteString(req.Operation)
	b.WriteString("\n")
	if req.Description != "" {
		b.WriteString("Description: ")
		b.WriteString(req.Description)
		b.WriteString("\n")
	}
	b.WriteString("Response Type:\n    ")
	b.WriteString(indent(req.ResponseSchema, "    "))
	b.WriteString("\n")
	for _, ex := range examples {
		b.WriteString("Request:\n    ")
		b.WriteString(indent(formatExampleArgs(names, ex.Arguments), "    "))
		b.WriteString("\nResponse:\n    ")
		b.WriteString(indent(strings.TrimSpace(ex.Response), "    "))
		b.WriteString("\n")
	}
	b.WriteString("Request:\n    ")
	b.WriteString(indent(FormatArgs(req.Args), "    "))
	b.WriteString("\nResponse:\n    ")
	b.WriteString(req.Opener())
	return b.String(), nil
}

// Flatten joins chat messages into one text for moderation.
func Flatten(msgs []completion.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(s, "\n", "\n"+prefix)
}
