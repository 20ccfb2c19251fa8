package describe

import (
	"context"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Kind is the closed tag set a Schema branches on.
type Kind string

const (
	KindPrimitive Kind = "primitive"
	KindObject    Kind = "object"
	KindArray     Kind = "array"
	KindMap       Kind = "map"
)

// Schema is a recursive type description.
type Schema struct {
	Kind Kind
	// Type is the primitive name for KindPrimitive ("string", "integer",
	// "number", "boolean") and the kind name otherwise.
	Type   string
	Format string
	// Class is the fully qualified type name for objects.
	Class string
	// Opaque marks a class-reference leaf: nothing below it was described.
	Opaque bool

	Properties []Property
	Methods    []Method

	Items  *Schema
	Keys   *Schema
	Values *Schema
}

// Property is a named member of an object schema.
type Property struct {
	Name   string
	Doc    string
	Schema *Schema
}

// Method is a callable member of an object schema. Truncated methods were
// reached at depth 0 and carry no signature.
type Method struct {
	Name      string
	Truncated bool
	Operation *OperationSchema
}

// OperationSchema describes a callable signature.
type OperationSchema struct {
	Name    string
	Doc     string
	Params  []ParamSchema
	Returns *Schema
}

// ParamSchema is one described parameter.
type ParamSchema struct {
	Name   string
	Doc    string
	Schema *Schema
}

// OperationDoc documents one method for OperationDocumenter.
type OperationDoc struct {
	Description string
	Params      []string
	ParamDocs   []string
}

// OperationDocumenter is implemented by types that document their methods.
// Keys are Go method names.
type OperationDocumenter interface {
	DescribeOperations() map[string]OperationDoc
}

// methodBlacklist holds structurally meaningless members: equality, hashing,
// string conversion, copying and codec hooks.
var methodBlacklist = map[string]struct{}{
	"Equal":         {},
	"Equals":        {},
	"Hash":          {},
	"HashCode":      {},
	"String":        {},
	"GoString":      {},
	"Copy":          {},
	"Clone":         {},
	"MarshalJSON":   {},
	"UnmarshalJSON": {},
	"MarshalText":   {},
	"UnmarshalText": {},
	"MarshalYAML":   {},
	"UnmarshalYAML": {},
	"Validate":      {},
}

var (
	contextType       = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType         = reflect.TypeOf((*error)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	documenterType    = reflect.TypeOf((*OperationDocumenter)(nil)).Elem()
	byteSliceType     = reflect.TypeOf([]byte(nil))
	jsonNumberType    = reflect.TypeOf(json.Number(""))
)

// ClassName returns the name used for class references and abbreviation
// matching: "pkgpath.Name" for named types, the Go spelling otherwise.
func ClassName(rt reflect.Type) string {
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt.Name() != "" && rt.PkgPath() != "" {
		return rt.PkgPath() + "." + rt.Name()
	}
	if rt.Kind() == reflect.Interface && rt.NumMethod() == 0 {
		return "any"
	}
	return rt.String()
}

func implements(rt, iface reflect.Type) bool {
	return rt.Implements(iface) || reflect.PointerTo(rt).Implements(iface)
}

// builder walks a type graph under a depth budget.
type builder struct {
	isAbbreviated func(string) bool
}

func (b *builder) leaf(rt reflect.Type) *Schema {
	return &Schema{Kind: KindObject, Type: "object", Class: ClassName(rt), Opaque: true}
}

func (b *builder) primitive(rt reflect.Type) (*Schema, bool) {
	if rt == timeType {
		return &Schema{Kind: KindPrimitive, Type: "string", Format: "date-time"}, true
	}
	if rt == jsonNumberType {
		return &Schema{Kind: KindPrimitive, Type: "number"}, true
	}
	if rt == byteSliceType {
		return &Schema{Kind: KindPrimitive, Type: "string", Format: "byte"}, true
	}
	switch rt.Kind() {
	case reflect.String:
		return &Schema{Kind: KindPrimitive, Type: "string"}, true
	case reflect.Bool:
		return &Schema{Kind: KindPrimitive, Type: "boolean"}, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Kind: KindPrimitive, Type: "integer"}, true
	case reflect.Float32, reflect.Float64:
		return &Schema{Kind: KindPrimitive, Type: "number"}, true
	}
	if rt.Kind() != reflect.Interface && implements(rt, textMarshalerType) {
		return &Schema{Kind: KindPrimitive, Type: "string"}, true
	}
	return nil, false
}

// typeSchema describes rt with the remaining depth budget.
func (b *builder) typeSchema(rt reflect.Type, depth int) *Schema {
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if s, ok := b.primitive(rt); ok {
		return s
	}
	if depth <= 0 || b.isAbbreviated(ClassName(rt)) {
		return b.leaf(rt)
	}
	if rt.Kind() == reflect.Interface || implements(rt, jsonMarshalerType) {
		return b.leaf(rt)
	}
	switch rt.Kind() {
	case reflect.Slice, reflect.Array:
		return &Schema{Kind: KindArray, Type: "array", Items: b.typeSchema(rt.Elem(), depth-1)}
	case reflect.Map:
		return &Schema{
			Kind:   KindMap,
			Type:   "map",
			Keys:   b.typeSchema(rt.Key(), depth-1),
			Values: b.typeSchema(rt.Elem(), depth-1),
		}
	case reflect.Struct:
		return b.objectSchema(rt, depth)
	default:
		return b.leaf(rt)
	}
}

func (b *builder) objectSchema(rt reflect.Type, depth int) *Schema {
	s := &Schema{Kind: KindObject, Type: "object", Class: ClassName(rt)}
	seen := map[string]struct{}{}
	b.collectFields(rt, depth, seen, map[reflect.Type]struct{}{rt: {}}, &s.Properties)
	if rt.Name() != "" {
		s.Methods = b.methods(rt, depth)
	}
	if len(s.Properties) == 0 && len(s.Methods) == 0 {
		s.Opaque = true
	}
	return s
}

// collectFields flattens promoted fields of embedded structs into out. An
// embedded type already on the embedding path contributes nothing further.
func (b *builder) collectFields(rt reflect.Type, depth int, seen map[string]struct{}, embedded map[reflect.Type]struct{}, out *[]Property) {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		jsonTag := f.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := strings.Split(jsonTag, ",")[0]

		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if f.Anonymous && name == "" && ft.Kind() == reflect.Struct {
			if _, cyc := embedded[ft]; cyc {
				continue
			}
			embedded[ft] = struct{}{}
			b.collectFields(ft, depth, seen, embedded, out)
			delete(embedded, ft)
			continue
		}
		if !f.IsExported() {
			continue
		}
		switch ft.Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
			continue
		}
		if name == "" {
			name = f.Name
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		*out = append(*out, Property{
			Name:   name,
			Doc:    f.Tag.Get("description"),
			Schema: b.typeSchema(f.Type, depth-1),
		})
	}
}

func (b *builder) methods(rt reflect.Type, depth int) []Method {
	pt := reflect.PointerTo(rt)
	var docs map[string]OperationDoc
	if pt.Implements(documenterType) {
		if d, ok := reflect.New(rt).Interface().(OperationDocumenter); ok {
			docs = d.DescribeOperations()
		}
	}

	// NumMethod enumerates exported methods in lexicographic order.
	var out []Method
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if _, skip := methodBlacklist[m.Name]; skip {
			continue
		}
		if m.Name == "DescribeOperations" && pt.Implements(documenterType) {
			continue
		}
		if depth-1 <= 0 {
			out = append(out, Method{Name: m.Name, Truncated: true})
			continue
		}
		// Drop the receiver.
		var in []reflect.Type
		for j := 1; j < m.Type.NumIn(); j++ {
			in = append(in, m.Type.In(j))
		}
		var ret reflect.Type
		for j := 0; j < m.Type.NumOut(); j++ {
			if o := m.Type.Out(j); o != errorType {
				ret = o
				break
			}
		}
		doc := docs[m.Name]
		out = append(out, Method{
			Name:      m.Name,
			Operation: b.signature(m.Name, doc, in, ret, depth-1),
		})
	}
	return out
}

// signature describes a parameter list and return type. Context parameters
// are elided.
func (b *builder) signature(name string, doc OperationDoc, in []reflect.Type, ret reflect.Type, depth int) *OperationSchema {
	op := &OperationSchema{Name: name, Doc: doc.Description}
	idx := 0
	for _, t := range in {
		if t == contextType {
			continue
		}
		p := ParamSchema{Name: fmt.Sprintf("arg%d", idx), Schema: b.typeSchema(t, depth-1)}
		if idx < len(doc.Params) && doc.Params[idx] != "" {
			p.Name = doc.Params[idx]
		}
		if idx < len(doc.ParamDocs) {
			p.Doc = doc.ParamDocs[idx]
		}
		op.Params = append(op.Params, p)
		idx++
	}
	if ret != nil {
		op.Returns = b.typeSchema(ret, depth-1)
	}
	return op
}
