// Package document holds the schema-less document model written to stores
// and the builder that maps log events into it.
package document

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type field struct {
	key   string
	value Value
}

// Document is an ordered mapping from case-insensitive string keys to Values.
// Keys are unique ignoring case: a later Set replaces the value but keeps the
// casing and position of the first write. Setting Absent deletes the key.
// A Document is not safe for concurrent mutation.
type Document struct {
	fields []field
	index  map[string]int
}

// New returns an empty document.
func New() *Document {
	return &Document{index: make(map[string]int)}
}

func normalizeKey(key string) string {
	return strings.ToLower(key)
}

// Set stores v under key, or removes key when v is Absent.
func (d *Document) Set(key string, v Value) {
	if v.IsAbsent() {
		d.Delete(key)
		return
	}
	if d.index == nil {
		d.index = make(map[string]int)
	}
	norm := normalizeKey(key)
	if i, ok := d.index[norm]; ok {
		d.fields[i].value = v
		return
	}
	d.index[norm] = len(d.fields)
	d.fields = append(d.fields, field{key: key, value: v})
}

// SetString stores s under key.
func (d *Document) SetString(key, s string) { d.Set(key, String(s)) }

// Get returns the value stored under key (case-insensitive).
func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Absent, false
	}
	i, ok := d.index[normalizeKey(key)]
	if !ok {
		return Absent, false
	}
	return d.fields[i].value, true
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete removes key if present.
func (d *Document) Delete(key string) {
	if d == nil || d.index == nil {
		return
	}
	norm := normalizeKey(key)
	i, ok := d.index[norm]
	if !ok {
		return
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	delete(d.index, norm)
	for j := i; j < len(d.fields); j++ {
		d.index[normalizeKey(d.fields[j].key)] = j
	}
}

// Len returns the number of keys.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Keys returns the keys in insertion order, with first-write casing.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.fields))
	for i, f := range d.fields {
		keys[i] = f.key
	}
	return keys
}

// Range calls fn for each key in order until fn returns false.
func (d *Document) Range(fn func(key string, v Value) bool) {
	if d == nil {
		return
	}
	for _, f := range d.fields {
		if !fn(f.key, f.value) {
			return
		}
	}
}

// Equal reports whether both documents hold the same keys, in the same
// order, with equal values.
func (d *Document) Equal(o *Document) bool {
	if d.Len() != o.Len() {
		return false
	}
	for i := 0; i < d.Len(); i++ {
		a, b := d.fields[i], o.fields[i]
		if a.key != b.key || !a.value.Equal(b.value) {
			return false
		}
	}
	return true
}

// Map converts the document into nested map[string]any values.
// Key order is lost; use MarshalJSON when order matters.
func (d *Document) Map() map[string]any {
	out := make(map[string]any, d.Len())
	d.Range(func(key string, v Value) bool {
		if v.Kind() == KindDocument {
			out[key] = v.Doc().Map()
		} else {
			out[key] = v.Interface()
		}
		return true
	})
	return out
}

// MarshalJSON encodes the document as a JSON object preserving key order.
// Timestamps are encoded as RFC 3339 with nanoseconds.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	var err error
	d.Range(func(key string, v Value) bool {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		var kb []byte
		if kb, err = json.Marshal(key); err != nil {
			return false
		}
		buf.Write(kb)
		buf.WriteByte(':')
		var vb []byte
		if vb, err = marshalValue(v); err != nil {
			return false
		}
		buf.Write(vb)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v Value) ([]byte, error) {
	switch v.Kind() {
	case KindString:
		return json.Marshal(v.Str())
	case KindNumber:
		if v.IsInt() {
			return json.Marshal(v.Int())
		}
		return json.Marshal(v.Float())
	case KindTimestamp:
		return json.Marshal(v.Time().Format(time.RFC3339Nano))
	case KindDocument:
		return v.Doc().MarshalJSON()
	default:
		return []byte("null"), nil
	}
}
