package gptproxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ggoodman/gptproxy-go/describe"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Bind fills every exported func-typed field of the struct pointed to by ptr
// with a stub that runs the field's operation through the proxy. Fields
// declare their contract with tags:
//
//	type Essays struct {
//	    Outline func(ctx context.Context, thesis string, length int) (*Outline, error) `proxy:"essayOutline" params:"thesis,length" description:"Outline an essay"`
//	}
//
// The operation name defaults to the field name; `proxy:"-"` skips a field.
// Parameter names default to arg0..argN.
func (p *Proxy) Bind(ptr any) error {
	rv := reflect.ValueOf(ptr)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("gptproxy: Bind requires a non-nil pointer to struct, got %T", ptr)
	}
	sv := rv.Elem()
	st := sv.Type()

	bound := 0
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Type.Kind() != reflect.Func {
			continue
		}
		name := f.Tag.Get("proxy")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		var params []string
		if tag := f.Tag.Get("params"); tag != "" {
			for _, s := range strings.Split(tag, ",") {
				params = append(params, strings.TrimSpace(s))
			}
		}
		desc, err := describe.NewOperation(name, f.Type, params, f.Tag.Get("description"))
		if err != nil {
			return &BindError{Field: f.Name, Err: err}
		}
		desc, err = p.register(desc)
		if err != nil {
			return &BindError{Field: f.Name, Err: err}
		}
		sv.Field(i).Set(p.stub(desc))
		bound++
	}
	if bound == 0 {
		return &BindError{Field: st.Name(), Err: errors.New("no func fields to bind")}
	}
	return nil
}

// stub builds a function value of the operation's type that routes calls
// through invoke.
func (p *Proxy) stub(desc *describe.OperationDescriptor) reflect.Value {
	ft := desc.FuncType()
	ret := ft.Out(0)
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		args := in
		if desc.HasContext {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			args = in[1:]
		}
		v, err := p.invoke(ctx, desc, args)
		if err != nil {
			return []reflect.Value{reflect.Zero(ret), reflect.ValueOf(&err).Elem()}
		}
		return []reflect.Value{v, reflect.Zero(errorType)}
	})
}
