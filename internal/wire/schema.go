package wire

import (
	"fmt"
	"reflect"
)

// schema is the ordered list of serialized fields of a struct type.
type schema struct {
	typ    reflect.Type
	fields []field
}

type field struct {
	name  string
	index int
	typ   reflect.Type
}

// schemaOf returns the cached schema for struct type t: exported fields in
// declaration order, minus those tagged wire:"-".
func (r *TypeRegistry) schemaOf(t reflect.Type) (*schema, error) {
	if cached, ok := r.schemas.Load(t); ok {
		return cached.(*schema), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrUnsupportedType, t)
	}
	s := &schema{typ: t}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("wire") == "-" {
			continue
		}
		s.fields = append(s.fields, field{name: f.Name, index: i, typ: f.Type})
	}
	actual, _ := r.schemas.LoadOrStore(t, s)
	return actual.(*schema), nil
}
