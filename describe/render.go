package describe

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func put(m *yaml.Node, key string, v *yaml.Node) {
	m.Content = append(m.Content, scalar(key), v)
}

// schemaNode converts s into an ordered YAML mapping.
func schemaNode(s *Schema) *yaml.Node {
	n := mapping()
	put(n, "type", scalar(s.Type))
	switch s.Kind {
	case KindPrimitive:
		if s.Format != "" {
			put(n, "format", scalar(s.Format))
		}
	case KindArray:
		put(n, "items", schemaNode(s.Items))
	case KindMap:
		put(n, "keys", schemaNode(s.Keys))
		put(n, "values", schemaNode(s.Values))
	case KindObject:
		put(n, "class", scalar(s.Class))
		if s.Opaque {
			return n
		}
		if len(s.Properties) > 0 {
			props := mapping()
			for _, p := range s.Properties {
				put(props, p.Name, documented(p.Doc, p.Schema))
			}
			put(n, "properties", props)
		}
		if len(s.Methods) > 0 {
			methods := mapping()
			for _, m := range s.Methods {
				if m.Truncated {
					put(methods, m.Name, scalar("..."))
					continue
				}
				put(methods, m.Name, operationNode(m.Operation))
			}
			put(n, "methods", methods)
		}
	}
	return n
}

// documented prefixes a schema mapping with a description entry.
func documented(doc string, s *Schema) *yaml.Node {
	inner := schemaNode(s)
	if doc == "" {
		return inner
	}
	n := mapping()
	put(n, "description", scalar(doc))
	n.Content = append(n.Content, inner.Content...)
	return n
}

func operationNode(op *OperationSchema) *yaml.Node {
	n := mapping()
	put(n, "operationId", scalar(op.Name))
	if op.Doc != "" {
		put(n, "description", scalar(op.Doc))
	}
	if len(op.Params) > 0 {
		params := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, p := range op.Params {
			pn := mapping()
			put(pn, "name", scalar(p.Name))
			if p.Doc != "" {
				put(pn, "description", scalar(p.Doc))
			}
			pn.Content = append(pn.Content, schemaNode(p.Schema).Content...)
			params.Content = append(params.Content, pn)
		}
		put(n, "parameters", params)
	}
	if op.Returns != nil {
		schema := mapping()
		put(schema, "schema", schemaNode(op.Returns))
		media := mapping()
		put(media, "application/json", schema)
		put(n, "responses", media)
	}
	return n
}

func renderNode(n *yaml.Node) string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	_ = enc.Encode(n) // string scalars only; encoding cannot fail
	_ = enc.Close()
	return strings.TrimRight(buf.String(), "\n")
}

// Render returns the YAML text for s.
func Render(s *Schema) string { return renderNode(schemaNode(s)) }

// RenderOperation returns the YAML text for op.
func RenderOperation(op *OperationSchema) string { return renderNode(operationNode(op)) }
