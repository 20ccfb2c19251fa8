package gptproxy

import (
	"sync"
	"sync/atomic"
)

// counters is the shared, lock-free metric state of a Proxy.
type counters struct {
	calls            atomic.Int64
	attempts         atomic.Int64
	errors           atomic.Int64
	decodeErrors     atomic.Int64
	moderations      atomic.Int64
	modelMaxShrinks  atomic.Int64
	timeouts         atomic.Int64
	tokens           atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	examples         atomic.Int64

	perOp sync.Map // operation name -> *atomic.Int64
}

func (c *counters) call(op string) {
	c.calls.Add(1)
	v, ok := c.perOp.Load(op)
	if !ok {
		v, _ = c.perOp.LoadOrStore(op, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(1)
}

func (c *counters) snapshot() map[string]int64 {
	m := map[string]int64{
		"calls":             c.calls.Load(),
		"attempts":          c.attempts.Load(),
		"errors":            c.errors.Load(),
		"decode_errors":     c.decodeErrors.Load(),
		"moderations":       c.moderations.Load(),
		"model_max_shrinks": c.modelMaxShrinks.Load(),
		"timeouts":          c.timeouts.Load(),
		"tokens":            c.tokens.Load(),
		"prompt_tokens":     c.promptTokens.Load(),
		"completion_tokens": c.completionTokens.Load(),
		"examples":          c.examples.Load(),
	}
	c.perOp.Range(func(k, v any) bool {
		m["calls."+k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return m
}
