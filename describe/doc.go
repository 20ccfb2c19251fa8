// Package describe derives structured, deterministic descriptions of Go types
// and operations. The descriptions are rendered as YAML and embedded in prompts
// so a generative backend knows the shape of the JSON it must produce.
//
// Classification
//
//	primitive  string, bool, integers, floats, encoding.TextMarshaler types
//	           (time.Time renders with format date-time)
//	array      slices and arrays (items)
//	map        maps (keys, values)
//	object     structs: exported fields in declaration order, then exported
//	           methods of the pointer method set in name order
//
// Interfaces, json.Marshaler implementations and anything reached at depth 0
// collapse to an opaque class reference:
//
//	type: object
//	class: example.com/pkg.Name
//
// The same leaf is emitted for class names that match one of the configured
// abbreviated prefixes (WithAbbreviated). The depth bound terminates recursive
// field types. Embedded structs are flattened in place, and an embedded type
// already on the embedding path is skipped.
//
// Field documentation comes from a `description` struct tag. Method parameter
// names and documentation come from the optional OperationDocumenter
// capability; without it parameters are named arg0, arg1, ...
//
// Output for identical (type, depth) input is byte-identical. Rendered text is
// cached in a bounded LRU per Describer.
package describe
