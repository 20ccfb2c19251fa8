package jsonextract

import (
	"errors"
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"surrounding prose", `noise {"a":1} trailing`, `{"a":1}`},
		{"quoted closing brace", `{"a":"}"}`, `{"a":"}"}`},
		{"quoted closing brace then stray quote", `{"a":"}"}"`, `{"a":"}"}`},
		{"escaped quote", `x {"a":"\"}"} y`, `{"a":"\"}"}`},
		{"nested", `Sure! {"a":{"b":[1,2]}} Hope that helps.`, `{"a":{"b":[1,2]}}`},
		{"no brace", `I cannot help with that`, `I cannot help with that`},
		{"unterminated", `here {"a":1`, `{"a":1`},
		{"last brace wins", `{"a":1} and {"b":2}`, `{"a":1} and {"b":2}`},
	}
	for _, tc := range cases {
		if got := Extract(tc.in); got != tc.want {
			t.Fatalf("%s: Extract(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestExtractArray(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`Answers: [{"name":"a"},{"name":"b"}] enjoy`, `[{"name":"a"},{"name":"b"}]`},
		{`["x]", "y"]`, `["x]", "y"]`},
		{`{[1,2]`, `[1,2]`},
		{`none`, `none`},
	}
	for _, tc := range cases {
		if got := ExtractArray(tc.in); got != tc.want {
			t.Fatalf("ExtractArray(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsArray(t *testing.T) {
	cases := []struct {
		v    any
		want bool
	}{
		{[]outline{}, true},
		{&[]string{}, true},
		{[2]int{}, true},
		{[]byte{}, false},
		{outline{}, false},
		{map[string]int{}, false},
	}
	for _, tc := range cases {
		rt := reflect.TypeOf(tc.v)
		if got := IsArray(rt); got != tc.want {
			t.Fatalf("IsArray(%v) = %v, want %v", rt, got, tc.want)
		}
		want := "{"
		if tc.want {
			want = "["
		}
		if got := Opener(rt); got != want {
			t.Fatalf("Opener(%v) = %q, want %q", rt, got, want)
		}
	}
}

type outline struct {
	Title  string   `json:"title"`
	Points []string `json:"points"`
}

type checked struct {
	N int `json:"n"`
}

func (c checked) Validate() error {
	if c.N <= 0 {
		return errors.New("n must be positive")
	}
	return nil
}

type ptrChecked struct {
	Name string `json:"name"`
}

func (p *ptrChecked) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestDecode(t *testing.T) {
	v, err := Decode(`Here you go: {"title":"Go","points":["a","b"]} done`, reflect.TypeOf(outline{}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := v.Interface().(outline)
	if got.Title != "Go" || !reflect.DeepEqual(got.Points, []string{"a", "b"}) {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestDecode_Failure(t *testing.T) {
	_, err := Decode("no json here", reflect.TypeOf(outline{}))
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if de.Payload != "no json here" {
		t.Fatalf("unexpected payload %q", de.Payload)
	}
}

func TestDecode_Validator(t *testing.T) {
	if _, err := DecodeInto[checked](`{"n":0}`); err == nil {
		t.Fatalf("expected value receiver validation failure")
	}
	c, err := DecodeInto[checked](`{"n":3}`)
	if err != nil || c.N != 3 {
		t.Fatalf("DecodeInto: %v %+v", err, c)
	}
	if _, err := DecodeInto[ptrChecked](`{"name":""}`); err == nil {
		t.Fatalf("expected pointer receiver validation failure")
	}
	p, err := DecodeInto[*ptrChecked](`{"name":"x"}`)
	if err != nil || p.Name != "x" {
		t.Fatalf("DecodeInto pointer: %v %+v", err, p)
	}
}

func TestDecode_Primitive(t *testing.T) {
	n, err := DecodeInto[map[string]int](`result: {"a": 1}`)
	if err != nil || n["a"] != 1 {
		t.Fatalf("DecodeInto map: %v %v", err, n)
	}
}

func TestDecode_SliceOfObjects(t *testing.T) {
	got, err := DecodeInto[[]outline](`Here: [{"title":"a"},{"title":"b","points":["x"]}]`)
	if err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if len(got) != 2 || got[0].Title != "a" || got[1].Points[0] != "x" {
		t.Fatalf("unexpected value: %+v", got)
	}
	strs, err := DecodeInto[[]string](`["a","b"]`)
	if err != nil || !reflect.DeepEqual(strs, []string{"a", "b"}) {
		t.Fatalf("DecodeInto strings: %v %v", err, strs)
	}
}
