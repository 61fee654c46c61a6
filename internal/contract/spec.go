package contract

import (
	"context"
	"sort"
)

// Spec carries the declarative options of one contract interface. Go
// reflection does not expose parameter names, so they are listed here.
type Spec struct {
	// Name overrides the service name; defaults to the interface name.
	Name           string
	AllowAnonymous bool
	Methods        map[string]MethodSpec
}

// MethodSpec holds per-method options keyed by Go method name.
type MethodSpec struct {
	// Params names the parameters in order, excluding a leading
	// context.Context. Missing names default to arg0, arg1, ...
	Params []string
	// ByRef forces pointer-to-struct parameters to be written back.
	// Pointers to non-struct values are by-ref without being listed.
	ByRef []string
	// AllowAnonymous overrides the contract flag when non-nil.
	AllowAnonymous *bool
	Filters        []Filter
	Rules          map[string]Rule
}

// Rule validates one parameter before the call leaves the client.
type Rule struct {
	Required bool
	// Message is the Required failure text; %s receives the parameter name.
	Message    string
	Validators []func(any) error
}

// Validator is implemented by argument types that check themselves.
type Validator interface {
	Validate() error
}

// Call is the invocation seen by filters on the receiving side. Args hold
// the converted positional arguments; by-ref arguments are pointers.
type Call struct {
	Context context.Context
	Info    *Info
	Method  *Method
	Args    []any
	Session string
}

// Filter wraps method execution on the receiving side. Filters run in
// ascending Order; a filter that does not call next short-circuits the call.
type Filter interface {
	Order() int
	Invoke(call *Call, next func() error) error
}

// FilterFunc adapts a function into a Filter.
type FilterFunc struct {
	Priority int
	Fn       func(call *Call, next func() error) error
}

func (f FilterFunc) Order() int { return f.Priority }

func (f FilterFunc) Invoke(call *Call, next func() error) error {
	return f.Fn(call, next)
}

func sortFilters(in []Filter) []Filter {
	out := append([]Filter(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order() < out[j].Order() })
	return out
}

// Bool returns a pointer to b, for MethodSpec.AllowAnonymous.
func Bool(b bool) *bool {
	return &b
}
