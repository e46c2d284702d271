package models

import (
	"bytes"
	"encoding/json"
)

// Record is the ordered field → value mapping produced by one extraction.
//
// Its key set always equals the requested field list. A field the model
// could not resolve holds nil and marshals as JSON null.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns a Record with every field present and set to nil.
func NewRecord(fields []string) *Record {
	r := &Record{
		keys:   make([]string, len(fields)),
		values: make(map[string]any, len(fields)),
	}
	copy(r.keys, fields)
	for _, f := range fields {
		r.values[f] = nil
	}
	return r
}

// Set assigns a value to a known field. Unknown fields are ignored so the
// key set can never grow beyond the request.
func (r *Record) Set(field string, value any) bool {
	if _, ok := r.values[field]; !ok {
		return false
	}
	r.values[field] = value
	return true
}

// Get returns the value for field and whether the field exists.
func (r *Record) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Keys returns the fields in request order.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.keys) }

// Found returns how many fields hold a non-nil value.
func (r *Record) Found() int {
	n := 0
	for _, v := range r.values {
		if v != nil {
			n++
		}
	}
	return n
}

// Map returns a shallow copy of the values keyed by field.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the fields in request order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
