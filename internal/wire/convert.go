package wire

import (
	"fmt"
	"math"
	"reflect"
)

// Convert coerces a decoded value into type t. Nil becomes the zero value.
func Convert(v any, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if err := assign(out, reflect.ValueOf(v)); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

// Assign stores src into the settable dst, converting where shapes allow.
func Assign(dst reflect.Value, src any) error {
	return assign(dst, reflect.ValueOf(src))
}

func assign(dst, src reflect.Value) error {
	if src.IsValid() && src.Kind() == reflect.Interface {
		if src.IsNil() {
			src = reflect.Value{}
		} else {
			src = src.Elem()
		}
	}
	if !src.IsValid() {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	st, dt := src.Type(), dst.Type()
	if st.AssignableTo(dt) {
		dst.Set(src)
		return nil
	}

	switch dt.Kind() {
	case reflect.Pointer:
		p := reflect.New(dt.Elem())
		inner := src
		if st.Kind() == reflect.Pointer {
			if src.IsNil() {
				dst.Set(reflect.Zero(dt))
				return nil
			}
			inner = src.Elem()
		}
		if err := assign(p.Elem(), inner); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	case reflect.Interface:
		return mismatch(st, dt)
	case reflect.Slice:
		if st.Kind() == reflect.Slice {
			if st.ConvertibleTo(dt) {
				dst.Set(src.Convert(dt))
				return nil
			}
			n := src.Len()
			out := reflect.MakeSlice(dt, n, n)
			for i := 0; i < n; i++ {
				if err := assign(out.Index(i), src.Index(i)); err != nil {
					return err
				}
			}
			dst.Set(out)
			return nil
		}
	case reflect.Array:
		if st.Kind() == reflect.Array && st.Len() == dt.Len() {
			if st.ConvertibleTo(dt) {
				dst.Set(src.Convert(dt))
				return nil
			}
			for i := 0; i < dt.Len(); i++ {
				if err := assign(dst.Index(i), src.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
	case reflect.Map:
		if st.Kind() == reflect.Map {
			if st.ConvertibleTo(dt) {
				dst.Set(src.Convert(dt))
				return nil
			}
			out := reflect.MakeMapWithSize(dt, src.Len())
			iter := src.MapRange()
			for iter.Next() {
				k := reflect.New(dt.Key()).Elem()
				if err := assign(k, iter.Key()); err != nil {
					return err
				}
				v := reflect.New(dt.Elem()).Elem()
				if err := assign(v, iter.Value()); err != nil {
					return err
				}
				out.SetMapIndex(k, v)
			}
			dst.Set(out)
			return nil
		}
	case reflect.Struct:
		if isResultOf(dt) && isResultOf(st) {
			dst.FieldByName("Result").Set(src.FieldByName("Result"))
			return assign(dst.FieldByName("Value"), src.FieldByName("Value"))
		}
		if st.Kind() == reflect.Struct && st.ConvertibleTo(dt) {
			dst.Set(src.Convert(dt))
			return nil
		}
	case reflect.Bool:
		if st.Kind() == reflect.Bool {
			dst.SetBool(src.Bool())
			return nil
		}
	case reflect.String:
		if st.Kind() == reflect.String {
			dst.SetString(src.String())
			return nil
		}
	default:
		if isNumber(dt.Kind()) && isNumber(st.Kind()) {
			return setNumber(dst, src)
		}
	}

	if st.Kind() == reflect.Pointer && !src.IsNil() {
		return assign(dst, src.Elem())
	}
	return mismatch(st, dt)
}

func mismatch(src, dst reflect.Type) error {
	return fmt.Errorf("%w: %s into %s", ErrTypeMismatch, src, dst)
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || isFloat(k)
}

// setNumber converts between numeric kinds, refusing lossy integer results.
func setNumber(dst, src reflect.Value) error {
	overflow := fmt.Errorf("%w: %v overflows %s", ErrTypeMismatch, src.Interface(), dst.Type())
	sk := src.Kind()
	switch dk := dst.Kind(); {
	case isFloat(dk):
		switch {
		case isInt(sk):
			dst.SetFloat(float64(src.Int()))
		case isUint(sk):
			dst.SetFloat(float64(src.Uint()))
		default:
			dst.SetFloat(src.Float())
		}
	case isInt(dk):
		var n int64
		switch {
		case isInt(sk):
			n = src.Int()
		case isUint(sk):
			u := src.Uint()
			if u > math.MaxInt64 {
				return overflow
			}
			n = int64(u)
		default:
			f := src.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
				return overflow
			}
			n = int64(f)
		}
		if dst.OverflowInt(n) {
			return overflow
		}
		dst.SetInt(n)
	default:
		var u uint64
		switch {
		case isInt(sk):
			if src.Int() < 0 {
				return overflow
			}
			u = uint64(src.Int())
		case isUint(sk):
			u = src.Uint()
		default:
			f := src.Float()
			if f != math.Trunc(f) || f < 0 || f > math.MaxUint64 {
				return overflow
			}
			u = uint64(f)
		}
		if dst.OverflowUint(u) {
			return overflow
		}
		dst.SetUint(u)
	}
	return nil
}
