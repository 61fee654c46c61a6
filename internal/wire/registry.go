package wire

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// TypeRegistry maps type descriptors to Go types and back. Builtin and
// composite descriptors resolve without registration; named types resolve
// once registered, either explicitly or by being encoded through a codec that
// shares the registry.
type TypeRegistry struct {
	mu      sync.RWMutex
	byName  map[string]reflect.Type
	byType  map[reflect.Type]string
	results map[reflect.Type]reflect.Type
	schemas sync.Map
}

// DefaultRegistry backs Default and every codec built without WithRegistry.
var DefaultRegistry = NewTypeRegistry()

var builtinTypes = map[string]reflect.Type{
	"bool":     reflect.TypeFor[bool](),
	"int8":     reflect.TypeFor[int8](),
	"uint8":    reflect.TypeFor[uint8](),
	"int16":    reflect.TypeFor[int16](),
	"uint16":   reflect.TypeFor[uint16](),
	"int32":    reflect.TypeFor[int32](),
	"uint32":   reflect.TypeFor[uint32](),
	"int64":    reflect.TypeFor[int64](),
	"uint64":   reflect.TypeFor[uint64](),
	"int":      reflect.TypeFor[int](),
	"uint":     reflect.TypeFor[uint](),
	"float32":  reflect.TypeFor[float32](),
	"float64":  reflect.TypeFor[float64](),
	"string":   reflect.TypeFor[string](),
	"any":      reflect.TypeFor[any](),
	"time":     typeTime,
	"duration": typeDuration,
	"guid":     typeUUID,
	"decimal":  typeDecimal,
	"dbnull":   typeDBNull,
	"result":   typeResult,
	"type":     typeReflectType,
	"foldmap":  reflect.TypeFor[FoldMap](),
	"syncmap":  reflect.TypeFor[sync.Map](),
}

var typeReflectType = reflect.TypeFor[reflect.Type]()

func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		byName:  make(map[string]reflect.Type, len(builtinTypes)),
		byType:  make(map[reflect.Type]string, len(builtinTypes)),
		results: make(map[reflect.Type]reflect.Type),
	}
	for name, t := range builtinTypes {
		r.byName[name] = t
		r.byType[t] = name
	}
	return r
}

// Register records the types of the given sample values, walking into
// fields and element types.
func (r *TypeRegistry) Register(samples ...any) error {
	for _, s := range samples {
		if s == nil {
			continue
		}
		t, ok := s.(reflect.Type)
		if !ok {
			t = reflect.TypeOf(s)
		}
		if err := r.RegisterType(t); err != nil {
			return err
		}
	}
	return nil
}

// RegisterType records t and every type reachable from it.
func (r *TypeRegistry) RegisterType(t reflect.Type) error {
	return r.walk(t, make(map[reflect.Type]bool))
}

func (r *TypeRegistry) walk(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true
	if _, err := r.NameOf(t); err != nil {
		return err
	}
	if payload, ok := ResultPayload(t); ok {
		return r.walk(payload, seen)
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Pointer:
		return r.walk(t.Elem(), seen)
	case reflect.Map:
		if err := r.walk(t.Key(), seen); err != nil {
			return err
		}
		return r.walk(t.Elem(), seen)
	case reflect.Struct:
		if primitiveFor(t) != nil || t == typeResult {
			return nil
		}
		s, err := r.schemaOf(t)
		if err != nil {
			return err
		}
		for _, f := range s.fields {
			if err := r.walk(f.typ, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// NameOf returns the descriptor for t, recording named types as a side
// effect.
func (r *TypeRegistry) NameOf(t reflect.Type) (string, error) {
	r.mu.RLock()
	name, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}
	if t.Implements(typeReflectType) && t.Kind() == reflect.Pointer {
		return "type", nil
	}
	if err := checkEncodable(t); err != nil {
		return "", err
	}

	if t.Name() != "" {
		if t.PkgPath() == "" {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		}
		name = t.PkgPath() + "." + t.Name()
	} else {
		var err error
		name, err = r.compositeName(t)
		if err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[name]; ok && prev != t {
		return "", fmt.Errorf("%w: descriptor %q already bound to %s", ErrUnsupportedType, name, prev)
	}
	r.byName[name] = t
	r.byType[t] = name
	if payload, ok := ResultPayload(t); ok {
		r.results[payload] = t
	}
	return name, nil
}

func (r *TypeRegistry) compositeName(t reflect.Type) (string, error) {
	switch t.Kind() {
	case reflect.Slice:
		elem, err := r.NameOf(t.Elem())
		return "[]" + elem, err
	case reflect.Array:
		elem, err := r.NameOf(t.Elem())
		return "[" + strconv.Itoa(t.Len()) + "]" + elem, err
	case reflect.Pointer:
		elem, err := r.NameOf(t.Elem())
		return "*" + elem, err
	case reflect.Map:
		key, err := r.NameOf(t.Key())
		if err != nil {
			return "", err
		}
		val, err := r.NameOf(t.Elem())
		return "map[" + key + "]" + val, err
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// Limits on descriptors read off the wire. Fixed arrays above
// maxArrayBytes are rejected before a runtime type is built for them.
const (
	maxDescriptorLen = 1024
	maxArrayBytes    = 16 << 20
)

// Resolve maps a descriptor back to a Go type. Composites that were never
// named through NameOf are parsed on each call and not recorded, so peers
// cannot grow the registry with throwaway descriptors.
func (r *TypeRegistry) Resolve(name string) (reflect.Type, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}
	if len(name) > maxDescriptorLen {
		return nil, fmt.Errorf("%w: descriptor of %d bytes", ErrUnresolvableType, len(name))
	}
	return r.parse(name)
}

// arrayOf builds [n]elem, refusing lengths whose storage would exceed
// maxArrayBytes.
func arrayOf(n int, elem reflect.Type) (reflect.Type, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: array length %d", ErrInvalidLength, n)
	}
	if size := elem.Size(); size > 0 && uintptr(n) > maxArrayBytes/size {
		return nil, fmt.Errorf("%w: [%d]%s exceeds %d bytes", ErrInvalidLength, n, elem, maxArrayBytes)
	}
	return reflect.ArrayOf(n, elem), nil
}

func (r *TypeRegistry) parse(name string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(name, "[]"):
		elem, err := r.Resolve(name[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(name, "*"):
		elem, err := r.Resolve(name[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(name, "map["):
		end := matchBracket(name, 3)
		if end < 0 {
			break
		}
		key, err := r.Resolve(name[4:end])
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, fmt.Errorf("%w: map key %s", ErrUnresolvableType, key)
		}
		val, err := r.Resolve(name[end+1:])
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(key, val), nil
	case strings.HasPrefix(name, "["):
		end := strings.IndexByte(name, ']')
		if end < 0 {
			break
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil || n < 0 {
			break
		}
		elem, err := r.Resolve(name[end+1:])
		if err != nil {
			return nil, err
		}
		return arrayOf(n, elem)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnresolvableType, name)
}

// matchBracket returns the index of the ']' closing the '[' at open.
func matchBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// resultTypeFor returns the registered ResultOf instantiation carrying
// payload, falling back to ResultOf[any].
func (r *TypeRegistry) resultTypeFor(payload reflect.Type) reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.results[payload]; ok {
		return t
	}
	return typeResultOfAny
}
