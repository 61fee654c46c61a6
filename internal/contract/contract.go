// Package contract builds immutable method tables for contract interfaces:
// stable identities, parameter shapes, by-ref outputs, validation rules and
// receiving-side filters.
package contract

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/danmuck/contractrpc/internal/wire"
)

var (
	typeContext = reflect.TypeFor[context.Context]()
	typeError   = reflect.TypeFor[error]()
)

// Info is the metadata of one contract interface. It is never mutated after
// Build returns.
type Info struct {
	Type           reflect.Type
	Name           string
	AllowAnonymous bool
	Methods        []*Method

	byName map[string]*Method
}

// Method is one contract operation. Identity is its index in Info.Methods
// and is what travels on the wire.
type Method struct {
	Identity       int
	Name           string
	Params         []Param
	TakesContext   bool
	Return         reflect.Type
	ReturnsError   bool
	ReturnsResult  bool
	AllowAnonymous bool
	Filters        []Filter

	contract string
	byRef    []int
}

// Param is one wire-visible parameter.
type Param struct {
	Name  string
	Type  reflect.Type
	ByRef bool
	Rule  Rule
}

// WireType is the type sent on the wire: the pointee for by-ref params.
func (p Param) WireType() reflect.Type {
	if p.ByRef {
		return p.Type.Elem()
	}
	return p.Type
}

// Method returns the method with the given identity.
func (i *Info) Method(identity int) (*Method, bool) {
	if identity < 0 || identity >= len(i.Methods) {
		return nil, false
	}
	return i.Methods[identity], true
}

// MethodByName looks a method up by its Go name, case-insensitively.
func (i *Info) MethodByName(name string) (*Method, bool) {
	m, ok := i.byName[strings.ToLower(name)]
	return m, ok
}

// ByRef returns the parameter positions written back after a call, in
// order. Results[k+1] of a response carries ByRef()[k].
func (m *Method) ByRef() []int {
	return m.byRef
}

func (m *Method) String() string {
	return m.contract + "." + m.Name
}

// RunFilters executes the filter chain around final.
func (m *Method) RunFilters(call *Call, final func() error) error {
	var step func(i int) error
	step = func(i int) error {
		if i == len(m.Filters) {
			return final()
		}
		return m.Filters[i].Invoke(call, func() error { return step(i + 1) })
	}
	return step(0)
}

// Build reads the method set of iface. Go orders interface methods by name,
// which makes identities stable across builds of the same interface. Every
// parameter and return type is registered with types.
func Build(iface reflect.Type, spec Spec, types *wire.TypeRegistry) (*Info, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, fmt.Errorf("%w: %v", ErrNotInterface, iface)
	}
	info := &Info{
		Type:           iface,
		Name:           spec.Name,
		AllowAnonymous: spec.AllowAnonymous,
		byName:         make(map[string]*Method),
	}
	if info.Name == "" {
		info.Name = iface.Name()
	}
	if info.Name == "" {
		return nil, fmt.Errorf("%w: anonymous interface needs Spec.Name", ErrSpecMismatch)
	}

	for i := 0; i < iface.NumMethod(); i++ {
		rm := iface.Method(i)
		if !rm.IsExported() {
			continue
		}
		ms := spec.Methods[rm.Name]
		m, err := buildMethod(info, rm, ms, types)
		if err != nil {
			return nil, err
		}
		m.Identity = len(info.Methods)
		info.Methods = append(info.Methods, m)
		info.byName[strings.ToLower(m.Name)] = m
	}
	for name := range spec.Methods {
		if _, ok := info.byName[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("%w: %s has no method %s", ErrSpecMismatch, info.Name, name)
		}
	}
	return info, nil
}

func buildMethod(info *Info, rm reflect.Method, ms MethodSpec, types *wire.TypeRegistry) (*Method, error) {
	ft := rm.Type
	m := &Method{
		Name:           rm.Name,
		AllowAnonymous: info.AllowAnonymous,
		Filters:        sortFilters(ms.Filters),
		contract:       info.Name,
	}
	if ms.AllowAnonymous != nil {
		m.AllowAnonymous = *ms.AllowAnonymous
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%w: %s is variadic", ErrUnsupported, m)
	}

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == typeContext {
		m.TakesContext = true
		first = 1
	}
	count := ft.NumIn() - first
	if len(ms.Params) > count {
		return nil, fmt.Errorf("%w: %s names %d params, has %d", ErrSpecMismatch, m, len(ms.Params), count)
	}
	forced := make(map[string]bool, len(ms.ByRef))
	for _, name := range ms.ByRef {
		forced[name] = true
	}
	for i := 0; i < count; i++ {
		pt := ft.In(first + i)
		if pt == typeContext {
			return nil, fmt.Errorf("%w: %s takes context.Context after the first position", ErrUnsupported, m)
		}
		p := Param{Name: fmt.Sprintf("arg%d", i), Type: pt}
		if i < len(ms.Params) && ms.Params[i] != "" {
			p.Name = ms.Params[i]
		}
		if pt.Kind() == reflect.Pointer {
			p.ByRef = pt.Elem().Kind() != reflect.Struct || forced[p.Name]
		}
		if forced[p.Name] && !p.ByRef {
			return nil, fmt.Errorf("%w: %s param %s is not a pointer", ErrSpecMismatch, m, p.Name)
		}
		delete(forced, p.Name)
		p.Rule = ms.Rules[p.Name]
		if err := types.RegisterType(p.WireType()); err != nil {
			return nil, fmt.Errorf("%s param %s: %w", m, p.Name, err)
		}
		if p.ByRef {
			m.byRef = append(m.byRef, i)
		}
		m.Params = append(m.Params, p)
	}
	if len(forced) > 0 {
		return nil, fmt.Errorf("%w: %s has no by-ref params named %v", ErrSpecMismatch, m, ms.ByRef)
	}
	for name := range ms.Rules {
		if !m.hasParam(name) {
			return nil, fmt.Errorf("%w: %s has no param %s for its rule", ErrSpecMismatch, m, name)
		}
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == typeError {
			m.ReturnsError = true
		} else {
			m.Return = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != typeError {
			return nil, fmt.Errorf("%w: %s second result must be error", ErrUnsupported, m)
		}
		m.Return = ft.Out(0)
		m.ReturnsError = true
	default:
		return nil, fmt.Errorf("%w: %s returns %d values", ErrUnsupported, m, ft.NumOut())
	}
	if m.Return != nil {
		if m.Return == typeError {
			return nil, fmt.Errorf("%w: %s returns two errors", ErrUnsupported, m)
		}
		m.ReturnsResult = wire.IsResultType(m.Return)
		if err := types.RegisterType(m.Return); err != nil {
			return nil, fmt.Errorf("%s return: %w", m, err)
		}
	}
	return m, nil
}

func (m *Method) hasParam(name string) bool {
	for _, p := range m.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}
