package wire

import (
	"database/sql"
	"fmt"
	"net"
	"os"
	"reflect"
	"sort"
	"sync"
)

var (
	typeString  = reflect.TypeFor[string]()
	typeAny     = reflect.TypeFor[any]()
	typeFoldMap = reflect.TypeFor[FoldMap]()
	typeSyncMap = reflect.TypeFor[sync.Map]()

	liveInterfaces = []reflect.Type{
		reflect.TypeFor[net.Conn](),
		reflect.TypeFor[net.Listener](),
	}
	liveTypes = map[reflect.Type]bool{
		reflect.TypeFor[*os.File]():  true,
		reflect.TypeFor[*sql.DB]():   true,
		reflect.TypeFor[*sql.Tx]():   true,
		reflect.TypeFor[*sql.Conn](): true,
		reflect.TypeFor[*sql.Rows](): true,
		reflect.TypeFor[*sql.Stmt](): true,
	}
)

// checkEncodable rejects types bound to process-local resources.
func checkEncodable(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Errorf("%w: %s", ErrLiveObject, t)
	case reflect.Complex64, reflect.Complex128, reflect.Uintptr:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if liveTypes[t] {
		return fmt.Errorf("%w: %s", ErrLiveObject, t)
	}
	for _, live := range liveInterfaces {
		if t.Implements(live) {
			return fmt.Errorf("%w: %s", ErrLiveObject, t)
		}
	}
	return nil
}

type encoder struct {
	c    *Codec
	buf  []byte
	refs encodeRefs
}

func (e *encoder) tag(t Tag) {
	e.buf = append(e.buf, byte(t))
}

func (e *encoder) int32(n int) {
	e.buf = le.AppendUint32(e.buf, uint32(int32(n)))
}

func (e *encoder) ref(slot int32) {
	e.tag(TagReference)
	e.int32(int(slot))
}

// grow appends n zero bytes and returns them for in-place writes.
func (e *encoder) grow(n int) []byte {
	start := len(e.buf)
	e.buf = append(e.buf, make([]byte, n)...)
	return e.buf[start:]
}

func (e *encoder) encode(v reflect.Value, depth int) error {
	if depth > e.c.maxDepth {
		return ErrTooDeep
	}
	if !v.IsValid() {
		e.tag(TagNull)
		return nil
	}
	t := v.Type()
	if t.Kind() == reflect.Interface {
		if v.IsNil() {
			e.tag(TagNull)
			return nil
		}
		return e.encode(v.Elem(), depth)
	}
	if t.Kind() == reflect.Pointer && t.Implements(typeReflectType) {
		if v.IsNil() {
			e.tag(TagNull)
			return nil
		}
		return e.encodeType(v.Interface().(reflect.Type))
	}
	if err := checkEncodable(t); err != nil {
		return err
	}
	switch {
	case t == typeDBNull:
		e.tag(TagDBNull)
		return nil
	case t == typeResult:
		return e.encodeResult(v.Interface().(Result))
	case isResultOf(t):
		return e.encodeResultOf(v, depth)
	}
	if p := primitiveFor(t); p != nil {
		e.tag(p.tag)
		return p.put(e.grow(p.size), v)
	}
	switch t.Kind() {
	case reflect.String:
		return e.encodeString(v.String())
	case reflect.Pointer:
		return e.encodePointer(v, depth)
	case reflect.Slice:
		return e.encodeSlice(v, depth)
	case reflect.Array:
		return e.encodeMultiRank(v, depth)
	case reflect.Map:
		return e.encodeMap(v, depth)
	case reflect.Struct:
		return e.encodeValueObject(v, depth)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

func (e *encoder) encodeString(s string) error {
	if s == "" {
		e.tag(TagString)
		e.int32(0)
		return nil
	}
	if slot, ok := e.refs.stringSlot(s); ok {
		e.ref(slot)
		return nil
	}
	b, err := e.c.encodeText(s)
	if err != nil {
		return err
	}
	e.tag(TagString)
	e.int32(len(b))
	e.buf = append(e.buf, b...)
	if len(b) > 0 {
		e.refs.addString(s)
	}
	return nil
}

func (e *encoder) encodeTypeName(t reflect.Type) error {
	name, err := e.c.types.NameOf(t)
	if err != nil {
		return err
	}
	return e.encodeString(name)
}

func (e *encoder) encodeType(t reflect.Type) error {
	e.tag(TagType)
	return e.encodeTypeName(t)
}

func (e *encoder) encodeResult(r Result) error {
	if r.isOK() {
		e.tag(TagResultOK)
		return nil
	}
	e.tag(TagResult)
	e.int32(int(r.Status))
	return e.encodeString(r.Message)
}

func (e *encoder) encodeResultOf(v reflect.Value, depth int) error {
	if _, err := e.c.types.NameOf(v.Type()); err != nil {
		return err
	}
	r := v.FieldByName("Result").Interface().(Result)
	payload := v.FieldByName("Value")
	e.tag(TagResultOf)
	e.int32(int(r.Status))
	if err := e.encodeString(r.Message); err != nil {
		return err
	}
	if err := e.encodeTypeName(payload.Type()); err != nil {
		return err
	}
	return e.encode(payload, depth+1)
}

func (e *encoder) encodePointer(v reflect.Value, depth int) error {
	t := v.Type()
	if v.IsNil() {
		if t.Elem().Kind() == reflect.String {
			e.tag(TagString)
			e.int32(-1)
			return nil
		}
		e.tag(TagNull)
		return nil
	}
	switch t.Elem() {
	case typeFoldMap:
		return e.encodeFoldMap(v)
	case typeSyncMap:
		return e.encodeSyncMap(v, depth)
	}
	if isObjectType(t.Elem()) {
		return e.encodeObject(v, depth)
	}
	return e.encode(v.Elem(), depth+1)
}

// isObjectType reports whether *t is sent as a tracked Object.
func isObjectType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && primitiveFor(t) == nil && !IsResultType(t) && t != typeDBNull
}

// tracked writes a back reference if k was already emitted.
func (e *encoder) tracked(k identityKey) bool {
	if slot, ok := e.refs.slot(k); ok {
		e.ref(slot)
		return true
	}
	return false
}

func (e *encoder) encodeObject(v reflect.Value, depth int) error {
	t := v.Type()
	key := identityKey{ptr: v.Pointer(), typ: t}
	if e.tracked(key) {
		return nil
	}
	e.tag(TagObject)
	if err := e.encodeTypeName(t.Elem()); err != nil {
		return err
	}
	e.refs.add(key)
	return e.encodeFields(v.Elem(), depth)
}

func (e *encoder) encodeValueObject(v reflect.Value, depth int) error {
	e.tag(TagValueTypeObject)
	if err := e.encodeTypeName(v.Type()); err != nil {
		return err
	}
	return e.encodeFields(v, depth)
}

func (e *encoder) encodeFields(v reflect.Value, depth int) error {
	s, err := e.c.types.schemaOf(v.Type())
	if err != nil {
		return err
	}
	e.int32(len(s.fields))
	for _, f := range s.fields {
		if err := e.encode(v.Field(f.index), depth+1); err != nil {
			return fmt.Errorf("%s.%s: %w", v.Type().Name(), f.name, err)
		}
	}
	return nil
}

func (e *encoder) encodeSlice(v reflect.Value, depth int) error {
	if v.IsNil() {
		e.tag(TagNull)
		return nil
	}
	t := v.Type()
	n := v.Len()
	key := identityKey{ptr: v.Pointer(), n: n, typ: t}
	if n > 0 && e.tracked(key) {
		return nil
	}
	register := func() {
		if n > 0 {
			e.refs.add(key)
		}
	}

	if p := compactArrayFor(t); p != nil {
		e.tag(p.arrayTag)
		e.int32(n)
		register()
		b := e.grow(n * p.size)
		for i := 0; i < n; i++ {
			if err := p.put(b[i*p.size:], v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}

	switch {
	case t.Name() == "" && t.Elem() == typeString:
		e.tag(TagStringArray)
		e.int32(n)
		register()
		for i := 0; i < n; i++ {
			if err := e.encodeString(v.Index(i).String()); err != nil {
				return err
			}
		}
		return nil
	case t.Name() == "" && t.Elem() == typeAny:
		e.tag(TagObjectArray)
	case t.Name() != "":
		e.tag(TagList)
		if err := e.encodeTypeName(t); err != nil {
			return err
		}
	default:
		e.tag(TagArray)
		if err := e.encodeTypeName(t.Elem()); err != nil {
			return err
		}
	}
	e.int32(n)
	register()
	for i := 0; i < n; i++ {
		if err := e.encode(v.Index(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// arrayShape returns the dimensions of nested unnamed fixed arrays rooted at
// t and the innermost element type.
func arrayShape(t reflect.Type) ([]int, reflect.Type) {
	dims := []int{t.Len()}
	elem := t.Elem()
	for elem.Kind() == reflect.Array && elem.Name() == "" {
		dims = append(dims, elem.Len())
		elem = elem.Elem()
	}
	return dims, elem
}

// nextIndex advances idx in row-major order, innermost dimension fastest.
func nextIndex(idx, dims []int) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < dims[i] {
			return
		}
		idx[i] = 0
	}
}

func elementCount(dims []int) int {
	total := 1
	for _, d := range dims {
		total *= d
	}
	return total
}

func (e *encoder) encodeMultiRank(v reflect.Value, depth int) error {
	dims, elem := arrayShape(v.Type())
	e.tag(TagMultiRankArray)
	if err := e.encodeTypeName(elem); err != nil {
		return err
	}
	e.int32(len(dims))
	for _, d := range dims {
		e.int32(d)
	}
	idx := make([]int, len(dims))
	for k, total := 0, elementCount(dims); k < total; k++ {
		cell := v
		for _, i := range idx {
			cell = cell.Index(i)
		}
		if err := e.encode(cell, depth+1); err != nil {
			return err
		}
		nextIndex(idx, dims)
	}
	return nil
}

func (e *encoder) encodeMap(v reflect.Value, depth int) error {
	if v.IsNil() {
		e.tag(TagNull)
		return nil
	}
	t := v.Type()
	key := identityKey{ptr: v.Pointer(), typ: t}
	if e.tracked(key) {
		return nil
	}
	e.tag(TagDictionary)
	if err := e.encodeTypeName(t.Key()); err != nil {
		return err
	}
	if err := e.encodeTypeName(t.Elem()); err != nil {
		return err
	}
	e.int32(v.Len())
	e.refs.add(key)
	for _, k := range sortedKeys(v) {
		if err := e.encode(k, depth+1); err != nil {
			return err
		}
		if err := e.encode(v.MapIndex(k), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// sortedKeys orders keys of ordered kinds so output is deterministic.
func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	switch v.Type().Key().Kind() {
	case reflect.String:
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Int() < keys[j].Int() })
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Uint() < keys[j].Uint() })
	case reflect.Float32, reflect.Float64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Float() < keys[j].Float() })
	}
	return keys
}

func (e *encoder) encodeFoldMap(v reflect.Value) error {
	key := identityKey{ptr: v.Pointer(), typ: v.Type()}
	if e.tracked(key) {
		return nil
	}
	m := v.Interface().(*FoldMap)
	e.tag(TagFoldDictionary)
	if err := e.encodeString("string"); err != nil {
		return err
	}
	if err := e.encodeString("string"); err != nil {
		return err
	}
	e.int32(m.Len())
	e.refs.add(key)
	var err error
	m.Range(func(k, val string) bool {
		if err = e.encodeString(k); err != nil {
			return false
		}
		err = e.encodeString(val)
		return err == nil
	})
	return err
}

func (e *encoder) encodeSyncMap(v reflect.Value, depth int) error {
	key := identityKey{ptr: v.Pointer(), typ: v.Type()}
	if e.tracked(key) {
		return nil
	}
	var pairs []any
	v.Interface().(*sync.Map).Range(func(k, val any) bool {
		pairs = append(pairs, k, val)
		return true
	})
	e.tag(TagConcurrentDictionary)
	if err := e.encodeString("any"); err != nil {
		return err
	}
	if err := e.encodeString("any"); err != nil {
		return err
	}
	e.int32(len(pairs) / 2)
	e.refs.add(key)
	for _, p := range pairs {
		if err := e.encode(reflect.ValueOf(p), depth+1); err != nil {
			return err
		}
	}
	return nil
}
