package wire

import (
	"encoding/binary"
	"math"
	"math/big"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// primitive describes a fixed-width value with a scalar tag and a compact
// array tag. typ is the canonical Go type produced on decode.
type primitive struct {
	tag      Tag
	arrayTag Tag
	typ      reflect.Type
	size     int
	put      func(b []byte, v reflect.Value) error
	get      func(b []byte) (reflect.Value, error)
}

var (
	typeTime     = reflect.TypeFor[time.Time]()
	typeDuration = reflect.TypeFor[time.Duration]()
	typeUUID     = reflect.TypeFor[uuid.UUID]()
	typeDecimal  = reflect.TypeFor[decimal.Decimal]()
)

// ticksUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01.
const (
	ticksPerSecond  = 10_000_000
	ticksUnixEpoch  = 621_355_968_000_000_000
	maxDecimalScale = 28
)

var le = binary.LittleEndian

var (
	primitivesByKind = map[reflect.Kind]*primitive{}
	primitivesByType = map[reflect.Type]*primitive{}
	primitivesByTag  = map[Tag]*primitive{}
	primitivesByArr  = map[Tag]*primitive{}
)

func init() {
	intPut := func(size int) func([]byte, reflect.Value) error {
		return func(b []byte, v reflect.Value) error {
			n := v.Int()
			switch size {
			case 1:
				b[0] = byte(int8(n))
			case 2:
				le.PutUint16(b, uint16(int16(n)))
			case 4:
				le.PutUint32(b, uint32(int32(n)))
			default:
				le.PutUint64(b, uint64(n))
			}
			return nil
		}
	}
	uintPut := func(size int) func([]byte, reflect.Value) error {
		return func(b []byte, v reflect.Value) error {
			n := v.Uint()
			switch size {
			case 1:
				b[0] = byte(n)
			case 2:
				le.PutUint16(b, uint16(n))
			case 4:
				le.PutUint32(b, uint32(n))
			default:
				le.PutUint64(b, n)
			}
			return nil
		}
	}

	add := func(kind reflect.Kind, p *primitive) {
		if kind != reflect.Invalid {
			primitivesByKind[kind] = p
		} else {
			primitivesByType[p.typ] = p
		}
		primitivesByTag[p.tag] = p
		primitivesByArr[p.arrayTag] = p
	}

	add(reflect.Bool, &primitive{
		tag: TagBool, arrayTag: TagBoolArray, typ: reflect.TypeFor[bool](), size: 1,
		put: func(b []byte, v reflect.Value) error {
			b[0] = 0
			if v.Bool() {
				b[0] = 1
			}
			return nil
		},
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(b[0] != 0), nil },
	})
	add(reflect.Int8, &primitive{
		tag: TagInt8, arrayTag: TagInt8Array, typ: reflect.TypeFor[int8](), size: 1, put: intPut(1),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(int8(b[0])), nil },
	})
	add(reflect.Uint8, &primitive{
		tag: TagUint8, arrayTag: TagBytes, typ: reflect.TypeFor[uint8](), size: 1, put: uintPut(1),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(b[0]), nil },
	})
	add(reflect.Int16, &primitive{
		tag: TagInt16, arrayTag: TagInt16Array, typ: reflect.TypeFor[int16](), size: 2, put: intPut(2),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(int16(le.Uint16(b))), nil },
	})
	add(reflect.Uint16, &primitive{
		tag: TagUint16, arrayTag: TagUint16Array, typ: reflect.TypeFor[uint16](), size: 2, put: uintPut(2),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(le.Uint16(b)), nil },
	})
	add(reflect.Int32, &primitive{
		tag: TagInt32, arrayTag: TagInt32Array, typ: reflect.TypeFor[int32](), size: 4, put: intPut(4),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(int32(le.Uint32(b))), nil },
	})
	add(reflect.Uint32, &primitive{
		tag: TagUint32, arrayTag: TagUint32Array, typ: reflect.TypeFor[uint32](), size: 4, put: uintPut(4),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(le.Uint32(b)), nil },
	})
	add(reflect.Int64, &primitive{
		tag: TagInt64, arrayTag: TagInt64Array, typ: reflect.TypeFor[int64](), size: 8, put: intPut(8),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(int64(le.Uint64(b))), nil },
	})
	add(reflect.Uint64, &primitive{
		tag: TagUint64, arrayTag: TagUint64Array, typ: reflect.TypeFor[uint64](), size: 8, put: uintPut(8),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(le.Uint64(b)), nil },
	})
	add(reflect.Int, &primitive{
		tag: TagInt, arrayTag: TagIntArray, typ: reflect.TypeFor[int](), size: 8, put: intPut(8),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(int(int64(le.Uint64(b)))), nil },
	})
	add(reflect.Uint, &primitive{
		tag: TagUint, arrayTag: TagUintArray, typ: reflect.TypeFor[uint](), size: 8, put: uintPut(8),
		get: func(b []byte) (reflect.Value, error) { return reflect.ValueOf(uint(le.Uint64(b))), nil },
	})
	add(reflect.Float32, &primitive{
		tag: TagFloat32, arrayTag: TagFloat32Array, typ: reflect.TypeFor[float32](), size: 4,
		put: func(b []byte, v reflect.Value) error {
			le.PutUint32(b, math.Float32bits(float32(v.Float())))
			return nil
		},
		get: func(b []byte) (reflect.Value, error) {
			return reflect.ValueOf(math.Float32frombits(le.Uint32(b))), nil
		},
	})
	add(reflect.Float64, &primitive{
		tag: TagFloat64, arrayTag: TagFloat64Array, typ: reflect.TypeFor[float64](), size: 8,
		put: func(b []byte, v reflect.Value) error {
			le.PutUint64(b, math.Float64bits(v.Float()))
			return nil
		},
		get: func(b []byte) (reflect.Value, error) {
			return reflect.ValueOf(math.Float64frombits(le.Uint64(b))), nil
		},
	})

	add(reflect.Invalid, &primitive{
		tag: TagDecimal, arrayTag: TagDecimalArray, typ: typeDecimal, size: 16,
		put: func(b []byte, v reflect.Value) error {
			return putDecimal(b, v.Interface().(decimal.Decimal))
		},
		get: func(b []byte) (reflect.Value, error) {
			d, err := getDecimal(b)
			return reflect.ValueOf(d), err
		},
	})
	add(reflect.Invalid, &primitive{
		tag: TagGuid, arrayTag: TagGuidArray, typ: typeUUID, size: 16,
		put: func(b []byte, v reflect.Value) error {
			id := v.Interface().(uuid.UUID)
			copy(b, id[:])
			return nil
		},
		get: func(b []byte) (reflect.Value, error) {
			var id uuid.UUID
			copy(id[:], b)
			return reflect.ValueOf(id), nil
		},
	})
	add(reflect.Invalid, &primitive{
		tag: TagDateTime, arrayTag: TagDateTimeArray, typ: typeTime, size: 8,
		put: func(b []byte, v reflect.Value) error {
			le.PutUint64(b, uint64(TimeToTicks(v.Interface().(time.Time))))
			return nil
		},
		get: func(b []byte) (reflect.Value, error) {
			return reflect.ValueOf(TicksToTime(int64(le.Uint64(b)))), nil
		},
	})
	add(reflect.Invalid, &primitive{
		tag: TagTimeSpan, arrayTag: TagTimeSpanArray, typ: typeDuration, size: 8,
		put: func(b []byte, v reflect.Value) error {
			le.PutUint64(b, uint64(v.Int()/100))
			return nil
		},
		get: func(b []byte) (reflect.Value, error) {
			return reflect.ValueOf(time.Duration(int64(le.Uint64(b)) * 100)), nil
		},
	})
}

// primitiveFor returns the fixed-width descriptor for t, if any. Exact type
// matches (time, duration, guid, decimal) win over the kind table so that
// time.Duration is not sent as a plain int64.
func primitiveFor(t reflect.Type) *primitive {
	if p, ok := primitivesByType[t]; ok {
		return p
	}
	return primitivesByKind[t.Kind()]
}

// compactArrayFor reports whether a slice of type t can use the compact
// array tag of its element primitive.
func compactArrayFor(t reflect.Type) *primitive {
	if t.Kind() != reflect.Slice || t.Name() != "" {
		return nil
	}
	p := primitiveFor(t.Elem())
	if p == nil || t.Elem() != p.typ {
		return nil
	}
	return p
}

// TimeToTicks converts t to 100ns ticks since 0001-01-01 UTC.
func TimeToTicks(t time.Time) int64 {
	t = t.UTC()
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100 + ticksUnixEpoch
}

// TicksToTime is the inverse of TimeToTicks. The result is always UTC.
func TicksToTime(ticks int64) time.Time {
	rel := ticks - ticksUnixEpoch
	sec := rel / ticksPerSecond
	rem := rel % ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}

var (
	maxDecimalCoefficient = new(big.Int).Lsh(big.NewInt(1), 96)
	maxUint64             = new(big.Int).SetUint64(math.MaxUint64)
)

func putDecimal(b []byte, d decimal.Decimal) error {
	if -d.Exponent() > maxDecimalScale {
		d = d.Round(maxDecimalScale)
	}
	coef := d.Coefficient()
	exp := d.Exponent()
	if exp > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
		exp = 0
	}
	neg := coef.Sign() < 0
	coef.Abs(coef)
	if coef.Cmp(maxDecimalCoefficient) >= 0 {
		return ErrDecimalOverflow
	}
	low := new(big.Int).And(coef, maxUint64).Uint64()
	high := new(big.Int).Rsh(coef, 64).Uint64()
	flags := uint32(-exp) << 16
	if neg {
		flags |= 1 << 31
	}
	le.PutUint32(b[0:], uint32(low))
	le.PutUint32(b[4:], uint32(low>>32))
	le.PutUint32(b[8:], uint32(high))
	le.PutUint32(b[12:], flags)
	return nil
}

func getDecimal(b []byte) (decimal.Decimal, error) {
	lo, mid, hi, flags := le.Uint32(b[0:]), le.Uint32(b[4:]), le.Uint32(b[8:]), le.Uint32(b[12:])
	scale := int32((flags >> 16) & 0xff)
	if scale > maxDecimalScale {
		return decimal.Decimal{}, ErrInvalidLength
	}
	coef := new(big.Int).SetUint64(uint64(hi))
	coef.Lsh(coef, 64)
	coef.Or(coef, new(big.Int).SetUint64(uint64(mid)<<32|uint64(lo)))
	if flags&(1<<31) != 0 {
		coef.Neg(coef)
	}
	return decimal.NewFromBigInt(coef, -scale), nil
}
