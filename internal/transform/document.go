package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is a flat, search-ready record. Fields keep the position of their
// first write; a later write to the same name replaces the value in place.
type Document struct {
	names  []string
	values map[string]any
}

func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// Set writes a field. Values are expected to be strings, numbers, or raw JSON scalars.
func (d *Document) Set(name string, v any) {
	if _, ok := d.values[name]; !ok {
		d.names = append(d.names, name)
	}
	d.values[name] = v
}

// Get returns the value of a field.
func (d *Document) Get(name string) (any, bool) {
	v, ok := d.values[name]
	return v, ok
}

// Has reports whether the field was written.
func (d *Document) Has(name string) bool {
	_, ok := d.values[name]
	return ok
}

// Len is the number of distinct fields.
func (d *Document) Len() int { return len(d.names) }

// Names returns field names in output order.
func (d *Document) Names() []string {
	return append([]string(nil), d.names...)
}

// String returns the value of a field as a string, decoding raw JSON strings.
func (d *Document) String(name string) (string, bool) {
	v, ok := d.values[name]
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(x, &s); err == nil {
			return s, true
		}
		return string(x), true
	default:
		return fmt.Sprint(x), true
	}
}

// MarshalJSON renders the fields as one JSON object in output order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v := d.values[name]
		if raw, ok := v.(json.RawMessage); ok && len(raw) == 0 {
			v = nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
