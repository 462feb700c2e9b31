// Package orderedjson provides an insertion-order-preserving JSON object
// container. Contract signatures (§3 "Contract") are computed over the
// canonical byte serialization of a contract document, so the parser must
// round-trip field order exactly - a plain map[string]interface{} does not,
// since Go randomizes map iteration order. No repo in the retrieved corpus
// carries an ordered-JSON library, so this is built directly on
// encoding/json's token stream (see DESIGN.md).
package orderedjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is the dynamic type stored in a Document: a *Document (nested
// object), a []Value (array, whose elements may themselves be *Document),
// or a Go primitive (string, json.Number, bool, nil) exactly as
// encoding/json.Decoder produces them with UseNumber.
type Value = interface{}

// Document is an ordered JSON object: a sequence of key/value pairs whose
// iteration order is always insertion order, regardless of how many times
// a key is set.
type Document struct {
	keys   []string
	values map[string]Value
}

// NewDocument returns an empty ordered document.
func NewDocument() *Document {
	return &Document{values: make(map[string]Value)}
}

// Set inserts or updates key. Updating an existing key preserves its
// original position; inserting a new key appends it.
func (d *Document) Set(key string, value Value) {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored at key and whether it was present.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// GetDocument returns the nested document at key, or nil if key is absent
// or not an object.
func (d *Document) GetDocument(key string) *Document {
	v, ok := d.values[key]
	if !ok {
		return nil
	}
	doc, _ := v.(*Document)
	return doc
}

// GetString returns the string stored at key, or "" if absent or not a string.
func (d *Document) GetString(key string) string {
	v, ok := d.values[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Delete removes key, preserving the relative order of the remaining keys.
func (d *Document) Delete(key string) {
	if _, exists := d.values[key]; !exists {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Keys returns the document's keys in insertion order. The returned slice
// must not be mutated by the caller.
func (d *Document) Keys() []string {
	return d.keys
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := NewDocument()
	for _, k := range d.keys {
		out.Set(k, cloneValue(d.values[k]))
	}
	return out
}

func cloneValue(v Value) Value {
	switch t := v.(type) {
	case *Document:
		return t.Clone()
	case []Value:
		out := make([]Value, len(t))
		for i, elem := range t {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return t
	}
}

// Parse decodes data into an ordered Document, preserving field order at
// every nesting level.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("orderedjson: read opening token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("orderedjson: expected top-level JSON object")
	}

	doc, err := parseObject(dec)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func parseObject(dec *json.Decoder) (*Document, error) {
	doc := NewDocument()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("orderedjson: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("orderedjson: object key is not a string")
		}

		value, err := parseValue(dec)
		if err != nil {
			return nil, fmt.Errorf("orderedjson: parse value for key %q: %w", key, err)
		}
		doc.Set(key, value)
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("orderedjson: read closing brace: %w", err)
	}
	return doc, nil
}

func parseArray(dec *json.Decoder) ([]Value, error) {
	var values []Value
	for dec.More() {
		value, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("orderedjson: read closing bracket: %w", err)
	}
	return values, nil
}

func parseValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		default:
			return nil, fmt.Errorf("orderedjson: unexpected delimiter %q", t)
		}
	default:
		return t, nil
	}
}

// Serialize renders d as canonical JSON bytes, preserving insertion order
// at every nesting level - the byte string contract signatures are
// computed and verified over.
func Serialize(d *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case *Document:
		return writeObject(buf, t)
	case []Value:
		return writeArray(buf, t)
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("orderedjson: marshal scalar: %w", err)
		}
		buf.Write(encoded)
		return nil
	}
}

func writeObject(buf *bytes.Buffer, d *Document) error {
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("orderedjson: marshal key %q: %w", key, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		if err := writeValue(buf, d.values[key]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, values []Value) error {
	buf.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
