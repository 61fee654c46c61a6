package wire

import (
	"sort"
	"strings"
)

// FoldMap is a string map with case-insensitive keys that remembers the
// spelling of the most recent Set. It is the codec's FoldDictionary shape and
// carries request and response headers. Read methods accept a nil receiver.
type FoldMap struct {
	entries map[string]foldEntry
}

type foldEntry struct {
	key   string
	value string
}

func NewFoldMap() *FoldMap {
	return &FoldMap{entries: make(map[string]foldEntry)}
}

// FoldMapOf builds a FoldMap from plain pairs. Later keys that fold to the
// same value win.
func FoldMapOf(pairs map[string]string) *FoldMap {
	m := NewFoldMap()
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, pairs[k])
	}
	return m
}

func (m *FoldMap) Set(key, value string) {
	if m.entries == nil {
		m.entries = make(map[string]foldEntry)
	}
	m.entries[strings.ToLower(key)] = foldEntry{key: key, value: value}
}

func (m *FoldMap) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	e, ok := m.entries[strings.ToLower(key)]
	return e.value, ok
}

func (m *FoldMap) Delete(key string) {
	if m == nil {
		return
	}
	delete(m.entries, strings.ToLower(key))
}

func (m *FoldMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the stored spellings in sorted folded order.
func (m *FoldMap) Keys() []string {
	if m == nil {
		return nil
	}
	folded := make([]string, 0, len(m.entries))
	for k := range m.entries {
		folded = append(folded, k)
	}
	sort.Strings(folded)
	out := make([]string, len(folded))
	for i, k := range folded {
		out[i] = m.entries[k].key
	}
	return out
}

// Range visits entries in Keys order until fn returns false.
func (m *FoldMap) Range(fn func(key, value string) bool) {
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		if !fn(k, v) {
			return
		}
	}
}

func (m *FoldMap) Clone() *FoldMap {
	out := NewFoldMap()
	out.Merge(m)
	return out
}

// Merge copies every entry of other into m, overwriting folded matches.
func (m *FoldMap) Merge(other *FoldMap) {
	other.Range(func(k, v string) bool {
		m.Set(k, v)
		return true
	})
}
