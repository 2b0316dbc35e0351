package dspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// UnmarshalJSON decodes a policy object keeping member order. Nested objects or
// arrays are kept as raw JSON like any scalar.
func (p *Policy) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		p.Fields = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("policy: expected object, got %v", tok)
	}
	fields := make([]PolicyField, 0, 8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("policy: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("policy %q: %w", key, err)
		}
		fields = append(fields, PolicyField{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	p.Fields = fields
	return nil
}

// MarshalJSON writes the policy back out in member order.
func (p Policy) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts string, number, bool or null values. Non-string scalars
// keep their textual form in Value (null becomes the empty string) and their
// JSON form in Raw.
func (m *MetadataEntry) UnmarshalJSON(b []byte) error {
	var raw struct {
		Key      string          `json:"key"`
		Value    json.RawMessage `json:"value"`
		Language *string         `json:"language"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Key = raw.Key
	m.Language = ""
	if raw.Language != nil {
		m.Language = *raw.Language
	}
	v, err := scalarText(raw.Value)
	if err != nil {
		return fmt.Errorf("metadata %q: %w", raw.Key, err)
	}
	m.Value = v
	m.Raw = nil
	if t := bytes.TrimSpace(raw.Value); len(t) > 0 && t[0] != '"' {
		m.Raw = append(json.RawMessage(nil), t...)
	}
	return nil
}

func scalarText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if raw[0] == '{' || raw[0] == '[' {
		return "", errors.New("value is not a scalar")
	}
	return string(raw), nil
}

// MapItemsPayload decodes a filtered-items response body.
func MapItemsPayload(raw []byte) ([]Item, error) {
	var root struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	if root.Items == nil {
		return []Item{}, nil
	}
	return root.Items, nil
}

// MapItemPayload decodes a single item body.
func MapItemPayload(raw []byte) (Item, error) {
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// MapPoliciesPayload decodes a /policy response body.
func MapPoliciesPayload(raw []byte) ([]Policy, error) {
	var out []Policy
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Policy{}
	}
	return out, nil
}

func ioReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errors.New("payload too large")
	}
	return b, nil
}
