package contract

import (
	"fmt"
	"reflect"
)

const defaultRequiredMessage = "%s is required"

// Validate checks positional arguments before anything is sent. Each
// argument in turn gets its required rule, then its value validators, then
// Validate() when it is non-primitive; the first failure ends the call.
// By-ref arguments are checked through their pointee.
func (m *Method) Validate(args []any) error {
	if len(args) != len(m.Params) {
		return &ValidationError{
			Contract: m.contract,
			Method:   m.Name,
			Reason:   fmt.Sprintf("expected %d arguments, got %d", len(m.Params), len(args)),
			Err:      ErrArgumentMismatch,
		}
	}
	for i, p := range m.Params {
		if err := m.validateArg(p, args[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Method) validateArg(p Param, v any) error {
	if p.Rule.Required && isAbsent(v) {
		msg := p.Rule.Message
		if msg == "" {
			msg = defaultRequiredMessage
		}
		return m.invalid(p, fmt.Sprintf(msg, p.Name), nil)
	}
	if p.ByRef {
		v = deref(v)
	}
	for _, check := range p.Rule.Validators {
		if err := check(v); err != nil {
			return m.invalid(p, err.Error(), err)
		}
	}
	if isAbsent(v) || isPrimitive(reflect.TypeOf(v)) {
		return nil
	}
	if sv, ok := v.(Validator); ok {
		if err := sv.Validate(); err != nil {
			return m.invalid(p, err.Error(), err)
		}
	}
	return nil
}

func (m *Method) invalid(p Param, reason string, err error) error {
	return &ValidationError{Contract: m.contract, Method: m.Name, Param: p.Name, Reason: reason, Err: err}
}

// isAbsent reports nil interfaces and nil pointers, slices, maps.
func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return v
	}
	return rv.Elem().Interface()
}

func isPrimitive(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
