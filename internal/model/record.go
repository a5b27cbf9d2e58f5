package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Record is an opaque key/value snapshot relayed from the terminal verbatim:
// account info, symbol info, ticks and order results.
type Record map[string]any

// DecodeRecord parses raw JSON into a Record. Numbers are kept as json.Number
// so large integers (tickets, logins) survive the round trip unchanged.
// A JSON null decodes to a nil Record.
func DecodeRecord(raw []byte) (Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return r, nil
}

// Int64 reads an integral field. ok is false when the key is missing or not a number.
func (r Record) Int64(key string) (int64, bool) {
	switch v := r[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// JSON returns the JSON-encoded record (ignoring errors, records are built from JSON).
func (r Record) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
