// Package metrics exports counter maps, such as gptproxy.Proxy.Metrics, as
// Prometheus metrics.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Source reports a point-in-time copy of named counters.
type Source interface {
	Metrics() map[string]int64
}

// operationPrefix marks per-operation counters ("calls.<operation>").
const operationPrefix = "calls."

// Collector is an unchecked prometheus.Collector over a Source. Counter names
// are only known at collection time, so Describe sends nothing.
type Collector struct {
	namespace string
	src       Source
	opCalls   *prometheus.Desc

	mu    sync.Mutex
	descs map[string]*prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector exports src under namespace. Per-operation call counts become
// <namespace>_operation_calls_total{operation="..."}; every other counter
// becomes <namespace>_<name>_total.
func NewCollector(namespace string, src Source) *Collector {
	return &Collector{
		namespace: sanitize(namespace),
		src:       src,
		opCalls: prometheus.NewDesc(
			prometheus.BuildFQName(sanitize(namespace), "operation", "calls_total"),
			"Invocations per operation.",
			[]string{"operation"}, nil,
		),
		descs: make(map[string]*prometheus.Desc),
	}
}

func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.src.Metrics() {
		if op, ok := strings.CutPrefix(name, operationPrefix); ok {
			ch <- prometheus.MustNewConstMetric(c.opCalls, prometheus.CounterValue, float64(v), op)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.desc(name), prometheus.CounterValue, float64(v))
	}
}

func (c *Collector) desc(name string) *prometheus.Desc {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.descs[name]; ok {
		return d
	}
	d := prometheus.NewDesc(
		prometheus.BuildFQName(c.namespace, "", sanitize(name)+"_total"),
		"Counter "+name+" reported by the source.",
		nil, nil,
	)
	c.descs[name] = d
	return d
}

// sanitize maps s onto the Prometheus metric name alphabet.
func sanitize(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
