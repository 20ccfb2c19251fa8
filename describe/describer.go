package describe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/invopop/jsonschema"
)

const (
	// DefaultMaxDepth bounds recursion when no depth is configured.
	DefaultMaxDepth  = 8
	defaultCacheSize = 512
)

// Describer renders schemas for types and operations. A Describer is safe for
// concurrent use; its caches are shared by every caller.
type Describer struct {
	maxDepth    int
	abbreviated []string

	texts *lru.Cache[textKey, string]
	ops   sync.Map // opKey -> string
	jsons sync.Map // reflect.Type -> json.RawMessage
}

type textKey struct {
	rt    reflect.Type
	depth int
}

type opKey struct {
	op    *OperationDescriptor
	depth int
}

// Option configures a Describer.
type Option func(*config)

type config struct {
	maxDepth    int
	abbreviated []string
	cacheSize   int
}

// WithMaxDepth sets the default recursion bound used by Describe and
// DescribeOperation callers that pass a negative depth.
func WithMaxDepth(depth int) Option {
	return func(c *config) { c.maxDepth = depth }
}

// WithAbbreviated collapses every type whose class name starts with one of the
// prefixes to an opaque class reference.
func WithAbbreviated(prefixes ...string) Option {
	return func(c *config) { c.abbreviated = append(c.abbreviated, prefixes...) }
}

// WithCacheSize bounds the number of rendered schema texts kept in memory.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// New constructs a Describer.
func New(opts ...Option) *Describer {
	cfg := config{maxDepth: DefaultMaxDepth, cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize <= 0 {
		cfg.cacheSize = defaultCacheSize
	}
	texts, _ := lru.New[textKey, string](cfg.cacheSize) // only errors on size <= 0
	return &Describer{
		maxDepth:    cfg.maxDepth,
		abbreviated: append([]string(nil), cfg.abbreviated...),
		texts:       texts,
	}
}

// MaxDepth returns the configured default depth.
func (d *Describer) MaxDepth() int { return d.maxDepth }

// IsAbbreviated reports whether the class name matches an abbreviated prefix.
func (d *Describer) IsAbbreviated(name string) bool {
	for _, p := range d.abbreviated {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (d *Describer) builder() *builder { return &builder{isAbbreviated: d.IsAbbreviated} }

func (d *Describer) depth(depth int) int {
	if depth < 0 {
		return d.maxDepth
	}
	return depth
}

// Schema builds the structured description of rt. A negative depth selects the
// configured maximum.
func (d *Describer) Schema(rt reflect.Type, depth int) *Schema {
	return d.builder().typeSchema(rt, d.depth(depth))
}

// Describe returns the YAML schema text for rt. Identical (rt, depth) input
// always yields identical text.
func (d *Describer) Describe(rt reflect.Type, depth int) string {
	key := textKey{rt: rt, depth: d.depth(depth)}
	if s, ok := d.texts.Get(key); ok {
		return s
	}
	s := Render(d.Schema(rt, key.depth))
	d.texts.Add(key, s)
	return s
}

// OperationSchema builds the structured description of op.
func (d *Describer) OperationSchema(op *OperationDescriptor, depth int) *OperationSchema {
	depth = d.depth(depth)
	b := d.builder()
	out := &OperationSchema{Name: op.Name, Doc: op.Doc}
	for _, p := range op.Params {
		out.Params = append(out.Params, ParamSchema{Name: p.Name, Doc: p.Doc, Schema: b.typeSchema(p.Type, depth-1)})
	}
	if op.Returns != nil {
		out.Returns = b.typeSchema(op.Returns, depth-1)
	}
	return out
}

// DescribeOperation returns the YAML text describing op's parameters and
// response schema.
func (d *Describer) DescribeOperation(op *OperationDescriptor, depth int) string {
	key := opKey{op: op, depth: d.depth(depth)}
	if v, ok := d.ops.Load(key); ok {
		return v.(string)
	}
	s := RenderOperation(d.OperationSchema(op, key.depth))
	actual, _ := d.ops.LoadOrStore(key, s)
	return actual.(string)
}

// JSONSchema returns a JSON Schema document for rt suitable for backends that
// support schema-constrained output.
func (d *Describer) JSONSchema(rt reflect.Type) json.RawMessage {
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if v, ok := d.jsons.Load(rt); ok {
		return v.(json.RawMessage)
	}
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		Anonymous:      true,
	}
	b, _ := json.Marshal(r.ReflectFromType(rt))
	actual, _ := d.jsons.LoadOrStore(rt, json.RawMessage(b))
	return actual.(json.RawMessage)
}

// Fingerprint returns a stable hex SHA-256 digest of schema text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
