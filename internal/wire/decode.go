package wire

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/danmuck/contractrpc/internal/status"
)

const maxRank = 32

type decoder struct {
	c    *Codec
	data []byte
	pos  int
	refs []reflect.Value
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) read(n int) ([]byte, error) {
	if n < 0 || n > d.remaining() {
		return nil, ErrTruncated
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readTag() (Tag, error) {
	b, err := d.read(1)
	if err != nil {
		return 0, err
	}
	return Tag(b[0]), nil
}

func (d *decoder) readInt32() (int32, error) {
	b, err := d.read(4)
	if err != nil {
		return 0, err
	}
	return int32(le.Uint32(b)), nil
}

// readLen reads a count of items occupying at least minSize bytes each and
// rejects counts the remaining input cannot hold.
func (d *decoder) readLen(minSize int) (int, error) {
	n, err := d.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if int64(n)*int64(minSize) > int64(d.remaining()) {
		return 0, fmt.Errorf("%w: %d items exceed %d remaining bytes", ErrTruncated, n, d.remaining())
	}
	return int(n), nil
}

func (d *decoder) register(v reflect.Value) {
	d.refs = append(d.refs, v)
}

func (d *decoder) deref() (reflect.Value, error) {
	slot, err := d.readInt32()
	if err != nil {
		return reflect.Value{}, err
	}
	if slot < 0 || int(slot) >= len(d.refs) {
		return reflect.Value{}, fmt.Errorf("%w: %d of %d", ErrInvalidReference, slot, len(d.refs))
	}
	return d.refs[slot], nil
}

func (d *decoder) decode(depth int) (reflect.Value, error) {
	if depth > d.c.maxDepth {
		return reflect.Value{}, ErrTooDeep
	}
	tag, err := d.readTag()
	if err != nil {
		return reflect.Value{}, err
	}
	return d.decodeTagged(tag, depth)
}

func (d *decoder) decodeTagged(tag Tag, depth int) (reflect.Value, error) {
	if p, ok := primitivesByTag[tag]; ok {
		b, err := d.read(p.size)
		if err != nil {
			return reflect.Value{}, err
		}
		return p.get(b)
	}
	if p, ok := primitivesByArr[tag]; ok {
		return d.decodeCompact(p)
	}

	switch tag {
	case TagReference:
		return d.deref()
	case TagNull:
		return reflect.Value{}, nil
	case TagDBNull:
		return reflect.ValueOf(DBNull), nil
	case TagResultOK:
		return reflect.ValueOf(OK()), nil
	case TagResult:
		r, err := d.readResult()
		return reflect.ValueOf(r), err
	case TagResultOf:
		return d.decodeResultOf(depth)
	case TagString:
		return d.decodeStringBody()
	case TagStringArray:
		return d.decodeStringArray()
	case TagType:
		t, err := d.readTypeName()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(t), nil
	case TagArray:
		elem, err := d.readTypeName()
		if err != nil {
			return reflect.Value{}, err
		}
		return d.decodeSlice(reflect.SliceOf(elem), depth)
	case TagList:
		t, err := d.readTypeName()
		if err != nil {
			return reflect.Value{}, err
		}
		if t.Kind() != reflect.Slice {
			return reflect.Value{}, fmt.Errorf("%w: list type %s", ErrSchemaMismatch, t)
		}
		return d.decodeSlice(t, depth)
	case TagObjectArray:
		return d.decodeSlice(reflect.SliceOf(typeAny), depth)
	case TagMultiRankArray:
		return d.decodeMultiRank(depth)
	case TagDictionary:
		return d.decodeMap(depth)
	case TagFoldDictionary:
		return d.decodeFoldMap()
	case TagConcurrentDictionary:
		return d.decodeSyncMap(depth)
	case TagObject:
		return d.decodeObject(depth)
	case TagValueTypeObject:
		return d.decodeValueObject(depth)
	}
	return reflect.Value{}, fmt.Errorf("%w: 0x%02x at offset %d", ErrUnknownTag, byte(tag), d.pos-1)
}

func (d *decoder) decodeStringBody() (reflect.Value, error) {
	n, err := d.readInt32()
	if err != nil {
		return reflect.Value{}, err
	}
	switch {
	case n == -1:
		return reflect.Value{}, nil
	case n < -1:
		return reflect.Value{}, fmt.Errorf("%w: string length %d", ErrInvalidLength, n)
	case n == 0:
		return reflect.ValueOf(""), nil
	}
	b, err := d.read(int(n))
	if err != nil {
		return reflect.Value{}, err
	}
	s, err := d.c.decodeText(b)
	if err != nil {
		return reflect.Value{}, err
	}
	v := reflect.ValueOf(s)
	d.register(v)
	return v, nil
}

// readString reads a String or a Reference to one. Null reads as "".
func (d *decoder) readString() (string, error) {
	tag, err := d.readTag()
	if err != nil {
		return "", err
	}
	var v reflect.Value
	switch tag {
	case TagString:
		v, err = d.decodeStringBody()
	case TagReference:
		v, err = d.deref()
	default:
		return "", fmt.Errorf("%w: %s where a string was expected", ErrUnexpectedTag, tag)
	}
	if err != nil {
		return "", err
	}
	if !v.IsValid() {
		return "", nil
	}
	if v.Kind() != reflect.String {
		return "", fmt.Errorf("%w: reference to %s where a string was expected", ErrUnexpectedTag, v.Type())
	}
	return v.String(), nil
}

func (d *decoder) readTypeName() (reflect.Type, error) {
	name, err := d.readString()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty descriptor", ErrUnresolvableType)
	}
	return d.c.types.Resolve(name)
}

func (d *decoder) readResult() (Result, error) {
	code, err := d.readInt32()
	if err != nil {
		return Result{}, err
	}
	msg, err := d.readString()
	if err != nil {
		return Result{}, err
	}
	return Result{Status: status.Code(code), Message: msg}, nil
}

func (d *decoder) decodeResultOf(depth int) (reflect.Value, error) {
	r, err := d.readResult()
	if err != nil {
		return reflect.Value{}, err
	}
	payloadType, err := d.readTypeName()
	if err != nil {
		return reflect.Value{}, err
	}
	payload, err := d.decode(depth + 1)
	if err != nil {
		return reflect.Value{}, err
	}
	out := NewResultValue(d.c.types.resultTypeFor(payloadType), r.Status, r.Message)
	if err := assign(out.FieldByName("Value"), payload); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func (d *decoder) decodeCompact(p *primitive) (reflect.Value, error) {
	n, err := d.readLen(p.size)
	if err != nil {
		return reflect.Value{}, err
	}
	s := reflect.MakeSlice(reflect.SliceOf(p.typ), n, n)
	if n > 0 {
		d.register(s)
	}
	for i := 0; i < n; i++ {
		b, _ := d.read(p.size)
		v, err := p.get(b)
		if err != nil {
			return reflect.Value{}, err
		}
		s.Index(i).Set(v)
	}
	return s, nil
}

func (d *decoder) decodeStringArray() (reflect.Value, error) {
	n, err := d.readLen(5)
	if err != nil {
		return reflect.Value{}, err
	}
	s := reflect.ValueOf(make([]string, n))
	if n > 0 {
		d.register(s)
	}
	for i := 0; i < n; i++ {
		str, err := d.readString()
		if err != nil {
			return reflect.Value{}, err
		}
		s.Index(i).SetString(str)
	}
	return s, nil
}

func (d *decoder) decodeSlice(t reflect.Type, depth int) (reflect.Value, error) {
	n, err := d.readLen(1)
	if err != nil {
		return reflect.Value{}, err
	}
	s := reflect.MakeSlice(t, n, n)
	if n > 0 {
		d.register(s)
	}
	for i := 0; i < n; i++ {
		v, err := d.decode(depth + 1)
		if err != nil {
			return reflect.Value{}, err
		}
		if err := assign(s.Index(i), v); err != nil {
			return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return s, nil
}

func (d *decoder) decodeMultiRank(depth int) (reflect.Value, error) {
	elem, err := d.readTypeName()
	if err != nil {
		return reflect.Value{}, err
	}
	rank, err := d.readInt32()
	if err != nil {
		return reflect.Value{}, err
	}
	if rank < 1 || rank > maxRank {
		return reflect.Value{}, fmt.Errorf("%w: rank %d", ErrInvalidLength, rank)
	}
	dims := make([]int, rank)
	total := 1
	for i := range dims {
		n, err := d.readInt32()
		if err != nil {
			return reflect.Value{}, err
		}
		if n < 0 {
			return reflect.Value{}, fmt.Errorf("%w: dimension %d", ErrInvalidLength, n)
		}
		dims[i] = int(n)
		total *= dims[i]
		if total > d.remaining() {
			return reflect.Value{}, fmt.Errorf("%w: %d cells exceed %d remaining bytes", ErrTruncated, total, d.remaining())
		}
	}

	t := elem
	for i := len(dims) - 1; i >= 0; i-- {
		if t, err = arrayOf(dims[i], t); err != nil {
			return reflect.Value{}, err
		}
	}
	out := reflect.New(t).Elem()
	idx := make([]int, len(dims))
	for k := 0; k < total; k++ {
		v, err := d.decode(depth + 1)
		if err != nil {
			return reflect.Value{}, err
		}
		cell := out
		for _, i := range idx {
			cell = cell.Index(i)
		}
		if err := assign(cell, v); err != nil {
			return reflect.Value{}, err
		}
		nextIndex(idx, dims)
	}
	return out, nil
}

func (d *decoder) decodeMap(depth int) (reflect.Value, error) {
	kt, err := d.readTypeName()
	if err != nil {
		return reflect.Value{}, err
	}
	vt, err := d.readTypeName()
	if err != nil {
		return reflect.Value{}, err
	}
	if !kt.Comparable() {
		return reflect.Value{}, fmt.Errorf("%w: map key %s", ErrSchemaMismatch, kt)
	}
	n, err := d.readLen(2)
	if err != nil {
		return reflect.Value{}, err
	}
	m := reflect.MakeMapWithSize(reflect.MapOf(kt, vt), n)
	d.register(m)
	for i := 0; i < n; i++ {
		k, err := d.decode(depth + 1)
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := d.decode(depth + 1)
		if err != nil {
			return reflect.Value{}, err
		}
		key := reflect.New(kt).Elem()
		if err := assign(key, k); err != nil {
			return reflect.Value{}, err
		}
		if !key.Comparable() {
			return reflect.Value{}, fmt.Errorf("%w: unhashable key %s", ErrSchemaMismatch, key.Type())
		}
		val := reflect.New(vt).Elem()
		if err := assign(val, v); err != nil {
			return reflect.Value{}, err
		}
		m.SetMapIndex(key, val)
	}
	return m, nil
}

func (d *decoder) decodeFoldMap() (reflect.Value, error) {
	for i := 0; i < 2; i++ {
		if _, err := d.readString(); err != nil {
			return reflect.Value{}, err
		}
	}
	n, err := d.readLen(2)
	if err != nil {
		return reflect.Value{}, err
	}
	m := NewFoldMap()
	out := reflect.ValueOf(m)
	d.register(out)
	for i := 0; i < n; i++ {
		k, err := d.readString()
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := d.readString()
		if err != nil {
			return reflect.Value{}, err
		}
		m.Set(k, v)
	}
	return out, nil
}

func (d *decoder) decodeSyncMap(depth int) (reflect.Value, error) {
	for i := 0; i < 2; i++ {
		if _, err := d.readString(); err != nil {
			return reflect.Value{}, err
		}
	}
	n, err := d.readLen(2)
	if err != nil {
		return reflect.Value{}, err
	}
	m := &sync.Map{}
	out := reflect.ValueOf(m)
	d.register(out)
	for i := 0; i < n; i++ {
		k, err := d.decode(depth + 1)
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := d.decode(depth + 1)
		if err != nil {
			return reflect.Value{}, err
		}
		if !k.IsValid() || !k.Comparable() {
			return reflect.Value{}, fmt.Errorf("%w: unhashable concurrent map key", ErrSchemaMismatch)
		}
		m.Store(k.Interface(), interfaceOf(v))
	}
	return out, nil
}

func interfaceOf(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}

func (d *decoder) structType() (reflect.Type, *schema, error) {
	t, err := d.readTypeName()
	if err != nil {
		return nil, nil, err
	}
	if !isObjectType(t) {
		return nil, nil, fmt.Errorf("%w: %s is not an object type", ErrSchemaMismatch, t)
	}
	s, err := d.c.types.schemaOf(t)
	if err != nil {
		return nil, nil, err
	}
	return t, s, nil
}

func (d *decoder) fieldCount(s *schema) error {
	n, err := d.readInt32()
	if err != nil {
		return err
	}
	if int(n) != len(s.fields) {
		return fmt.Errorf("%w: %s has %d fields, payload has %d", ErrSchemaMismatch, s.typ, len(s.fields), n)
	}
	return nil
}

func (d *decoder) decodeObject(depth int) (reflect.Value, error) {
	t, s, err := d.structType()
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.New(t)
	d.register(p)
	if err := d.fieldCount(s); err != nil {
		return reflect.Value{}, err
	}
	obj := p.Elem()
	for _, f := range s.fields {
		v, err := d.decode(depth + 1)
		if err != nil {
			return reflect.Value{}, err
		}
		if err := assign(obj.Field(f.index), v); err != nil {
			return reflect.Value{}, fmt.Errorf("%s.%s: %w", t.Name(), f.name, err)
		}
	}
	return p, nil
}

// decodeValueObject reads every field before building the value, so value
// types are constructed exactly once.
func (d *decoder) decodeValueObject(depth int) (reflect.Value, error) {
	t, s, err := d.structType()
	if err != nil {
		return reflect.Value{}, err
	}
	if err := d.fieldCount(s); err != nil {
		return reflect.Value{}, err
	}
	vals := make([]reflect.Value, len(s.fields))
	for i := range s.fields {
		if vals[i], err = d.decode(depth + 1); err != nil {
			return reflect.Value{}, err
		}
	}
	out := reflect.New(t).Elem()
	for i, f := range s.fields {
		if err := assign(out.Field(f.index), vals[i]); err != nil {
			return reflect.Value{}, fmt.Errorf("%s.%s: %w", t.Name(), f.name, err)
		}
	}
	return out, nil
}
