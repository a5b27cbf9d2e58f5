package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// params is a decoded request body.
type params map[string]any

func (p params) has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Text returns a string field. ok is false when the field is missing.
func (p params) Text(key string) (string, bool, error) {
	if !p.has(key) {
		return "", false, nil
	}
	s, isStr := p[key].(string)
	if !isStr {
		return "", true, fmt.Errorf("%s must be a string", key)
	}
	return s, true, nil
}

// Int returns an integer field given as a JSON integer or an integer string.
// Fractional values are rejected rather than truncated.
func (p params) Int(key string) (int64, bool, error) {
	if !p.has(key) {
		return 0, false, nil
	}
	var text string
	switch v := p[key].(type) {
	case json.Number:
		text = v.String()
	case string:
		text = strings.TrimSpace(v)
	default:
		return 0, true, fmt.Errorf("%s must be an integer", key)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s must be an integer, got %q", key, text)
	}
	return n, true, nil
}

// Float returns a numeric field given as a JSON number or a numeric string.
func (p params) Float(key string) (float64, bool, error) {
	if !p.has(key) {
		return 0, false, nil
	}
	var text string
	switch v := p[key].(type) {
	case json.Number:
		text = v.String()
	case string:
		text = strings.TrimSpace(v)
	default:
		return 0, true, fmt.Errorf("%s must be a number", key)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s must be a number, got %q", key, text)
	}
	return f, true, nil
}

// raw returns the field as sent, for echoing back.
func (p params) raw(key string) any {
	if v, ok := p[key].(json.Number); ok {
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return p[key]
}
