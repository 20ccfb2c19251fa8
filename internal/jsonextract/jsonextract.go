// Package jsonextract isolates a JSON object from surrounding prose and decodes
// it into a Go type.
package jsonextract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Validator is implemented by response types that check their own invariants
// after decoding.
type Validator interface {
	Validate() error
}

var validatorType = reflect.TypeOf((*Validator)(nil)).Elem()

// Extract returns the text from the first '{' to the last '}' outside a quoted
// string. Text without '{' is returned unchanged. An object that never closes
// yields the suffix starting at '{'.
func Extract(text string) string { return extract(text, '{', '}') }

// ExtractArray is Extract for a JSON array bounded by '[' and ']'.
func ExtractArray(text string) string { return extract(text, '[', ']') }

// ExtractFor extracts the payload a value of rt decodes from: an array for
// slice and array types, an object otherwise.
func ExtractFor(text string, rt reflect.Type) string {
	if IsArray(rt) {
		return ExtractArray(text)
	}
	return Extract(text)
}

// IsArray reports whether rt, after dereferencing pointers, is encoded as a
// JSON array. Byte slices encode as strings and are excluded.
func IsArray(rt reflect.Type) bool {
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	switch rt.Kind() {
	case reflect.Slice:
		return rt.Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}

// Opener returns the character that opens the JSON encoding of rt.
func Opener(rt reflect.Type) string {
	if IsArray(rt) {
		return "["
	}
	return "{"
}

func extract(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return text
	}
	end := -1
	inString := false
	for i := start; i < len(text); i++ {
		switch c := text[i]; {
		case c == '\\':
			i++
		case c == '"':
			inString = !inString
		case c == close && !inString:
			end = i
		}
	}
	if end < 0 {
		return text[start:]
	}
	return text[start : end+1]
}

// Error reports a failed decode together with the extracted payload.
type Error struct {
	Payload string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonextract: decode failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Decode extracts the JSON payload from text (see ExtractFor) and decodes it
// into a fresh value of rt. When the value implements Validator it must also
// validate.
func Decode(text string, rt reflect.Type) (reflect.Value, error) {
	payload := ExtractFor(text, rt)
	ptr := reflect.New(rt)

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(ptr.Interface()); err != nil {
		return reflect.Value{}, &Error{Payload: payload, Err: err}
	}

	var v Validator
	switch {
	case rt.Implements(validatorType):
		if rt.Kind() == reflect.Ptr && ptr.Elem().IsNil() {
			break
		}
		v = ptr.Elem().Interface().(Validator)
	case ptr.Type().Implements(validatorType):
		v = ptr.Interface().(Validator)
	}
	if v != nil {
		if err := v.Validate(); err != nil {
			return reflect.Value{}, &Error{Payload: payload, Err: fmt.Errorf("validate: %w", err)}
		}
	}
	return ptr.Elem(), nil
}

// DecodeInto is Decode for a statically known type.
func DecodeInto[T any](text string) (T, error) {
	var zero T
	v, err := Decode(text, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	return v.Interface().(T), nil
}
