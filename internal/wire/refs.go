package wire

import "reflect"

// identityKey identifies a tracked value on the encoding side. Slices include
// their length so that a re-slice of the same backing array is a new value.
type identityKey struct {
	ptr uintptr
	n   int
	typ reflect.Type
}

// encodeRefs assigns slots in first-seen order. Strings are keyed by value,
// everything else by identity; both share one slot counter so the decoder
// can rebuild the table from the stream alone.
type encodeRefs struct {
	strings map[string]int32
	ids     map[identityKey]int32
	next    int
}

func newEncodeRefs() encodeRefs {
	return encodeRefs{
		strings: make(map[string]int32),
		ids:     make(map[identityKey]int32),
	}
}

func (r *encodeRefs) stringSlot(s string) (int32, bool) {
	slot, ok := r.strings[s]
	return slot, ok
}

func (r *encodeRefs) addString(s string) {
	r.strings[s] = int32(r.next)
	r.next++
}

func (r *encodeRefs) slot(k identityKey) (int32, bool) {
	slot, ok := r.ids[k]
	return slot, ok
}

func (r *encodeRefs) add(k identityKey) {
	r.ids[k] = int32(r.next)
	r.next++
}
