package exemplar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Log persists examples across process lifetimes.
type Log interface {
	// Load returns every persisted example in append order.
	Load(ctx context.Context) ([]Example, error)
	// Append persists ex after every previously persisted example.
	Append(ctx context.Context, ex Example) error
	Close() error
}

// ReadJSON decodes the persisted format: a JSON array of examples. Empty input
// is an empty log.
func ReadJSON(r io.Reader) ([]Example, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out []Example
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("exemplar: decode log: %w", err)
	}
	for i := range out {
		if out[i].Arguments == nil {
			out[i].Arguments = map[string]string{}
		}
	}
	return out, nil
}

// WriteJSON encodes examples in the persisted format.
func WriteJSON(w io.Writer, examples []Example) error {
	if examples == nil {
		examples = []Example{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(examples)
}

// MemoryLog is an in-process Log.
type MemoryLog struct {
	mu       sync.Mutex
	examples []Example
	closed   bool
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog returns a log holding examples.
func NewMemoryLog(examples ...Example) *MemoryLog {
	l := &MemoryLog{}
	for _, ex := range examples {
		l.examples = append(l.examples, clone(ex))
	}
	return l
}

func (l *MemoryLog) Load(ctx context.Context) ([]Example, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	out := make([]Example, len(l.examples))
	for i, ex := range l.examples {
		out[i] = clone(ex)
	}
	return out, nil
}

func (l *MemoryLog) Append(ctx context.Context, ex Example) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.examples = append(l.examples, clone(ex))
	return nil
}

func (l *MemoryLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
