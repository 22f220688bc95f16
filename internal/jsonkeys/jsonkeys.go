// Package jsonkeys reads fields out of loosely shaped JSON objects.
//
// Ledger builds disagree on key casing (snake_case from hand-written handlers,
// PascalCase from generated row structs), so callers name every spelling they
// accept and the first non-empty one wins.
package jsonkeys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Object is a decoded JSON object. Numbers are kept as json.Number.
type Object map[string]any

// Decode parses body as a JSON object.
func Decode(body string) (Object, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode json object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("decode json object: body is null")
	}
	return obj, nil
}

// Value returns the first present, non-empty value among keys.
// Empty means: missing, null, "", false, numeric zero, or a nullable
// wrapper ({"String": ..., "Valid": false}).
func (o Object) Value(keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := o[k]
		if !ok {
			continue
		}
		v = unwrapNullable(v)
		if isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

// String returns the first non-empty value among keys rendered as text.
// Strings are returned as-is and numbers in their JSON spelling.
func (o Object) String(keys ...string) (string, bool) {
	v, ok := o.Value(keys...)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return fmt.Sprint(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Int returns the first non-empty value among keys as an int64.
// Numeric strings are accepted.
func (o Object) Int(keys ...string) (int64, bool) {
	s, ok := o.String(keys...)
	if !ok {
		return 0, false
	}
	n, err := json.Number(strings.TrimSpace(s)).Int64()
	if err != nil {
		f, ferr := json.Number(strings.TrimSpace(s)).Float64()
		if ferr != nil {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}

// Compact renders the object on one line for logs.
func (o Object) Compact() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(o)); err != nil {
		return fmt.Sprint(map[string]any(o))
	}
	return strings.TrimSpace(buf.String())
}

// unwrapNullable flattens the shapes database row types marshal nullable
// strings and integers into.
func unwrapNullable(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	valid, hasValid := m["Valid"].(bool)
	if !hasValid {
		return v
	}
	if !valid {
		return nil
	}
	for _, k := range []string{"String", "Int64", "Int32", "Float64", "Time"} {
		if inner, ok := m[k]; ok {
			return inner
		}
	}
	return v
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
