package describe

import (
	"errors"
	"fmt"
	"reflect"
)

// Parameter is one named argument of an operation.
type Parameter struct {
	Name string
	Doc  string
	Type reflect.Type
}

// OperationDescriptor is the derived, immutable description of one proxied
// operation: func([context.Context,] A1..An) (R, error).
type OperationDescriptor struct {
	Name       string
	Doc        string
	Params     []Parameter
	Returns    reflect.Type
	HasContext bool

	fnType reflect.Type
}

// FuncType returns the Go function type the descriptor was derived from.
func (o *OperationDescriptor) FuncType() reflect.Type { return o.fnType }

// ParamNames returns parameter names in declaration order.
func (o *OperationDescriptor) ParamNames() []string {
	names := make([]string, len(o.Params))
	for i, p := range o.Params {
		names[i] = p.Name
	}
	return names
}

// NewOperation validates fnType and builds a descriptor for it. paramNames may
// be empty (parameters become arg0..argN) or must name every non-context
// parameter.
func NewOperation(name string, fnType reflect.Type, paramNames []string, doc string) (*OperationDescriptor, error) {
	if name == "" {
		return nil, errors.New("describe: operation name is required")
	}
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("describe: operation %s: expected func type, got %v", name, fnType)
	}
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("describe: operation %s: variadic functions are not supported", name)
	}
	if fnType.NumOut() != 2 || fnType.Out(1) != errorType {
		return nil, fmt.Errorf("describe: operation %s: must return (T, error)", name)
	}

	op := &OperationDescriptor{Name: name, Doc: doc, Returns: fnType.Out(0), fnType: fnType}
	start := 0
	if fnType.NumIn() > 0 && fnType.In(0) == contextType {
		op.HasContext = true
		start = 1
	}
	n := fnType.NumIn() - start
	if len(paramNames) != 0 && len(paramNames) != n {
		return nil, fmt.Errorf("describe: operation %s: %d parameter names for %d parameters", name, len(paramNames), n)
	}
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		t := fnType.In(start + i)
		if t == contextType {
			return nil, fmt.Errorf("describe: operation %s: context.Context must be the first parameter", name)
		}
		pn := fmt.Sprintf("arg%d", i)
		if len(paramNames) > 0 && paramNames[i] != "" {
			pn = paramNames[i]
		}
		if _, dup := seen[pn]; dup {
			return nil, fmt.Errorf("describe: operation %s: duplicate parameter name %s", name, pn)
		}
		seen[pn] = struct{}{}
		op.Params = append(op.Params, Parameter{Name: pn, Type: t})
	}
	return op, nil
}
