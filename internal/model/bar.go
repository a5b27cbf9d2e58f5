package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// barFields is the number of columns in a terminal rate row.
const barFields = 8

// Bar is one OHLC row as returned by the terminal. It is encoded as an ordered
// JSON array in terminal column order:
//
//	[time, open, high, low, close, tick_volume, spread, real_volume]
//
// A bar decoded from JSON keeps the row exactly as received and encodes it
// back unchanged; the typed fields are a best-effort reading of it. Bars
// built in Go encode from the typed fields.
type Bar struct {
	Time       int64 // bar open time, unix seconds UTC
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume int64
	Spread     int64 // points
	RealVolume int64

	raw json.RawMessage
}

// OpenTime returns the bar open time as a UTC time.
func (b Bar) OpenTime() time.Time {
	return time.Unix(b.Time, 0).UTC()
}

// MarshalJSON re-emits a decoded row verbatim, otherwise encodes the typed
// fields as an 8-element array.
func (b Bar) MarshalJSON() ([]byte, error) {
	if b.raw != nil {
		return b.raw, nil
	}
	return json.Marshal([barFields]any{
		b.Time, b.Open, b.High, b.Low, b.Close, b.TickVolume, b.Spread, b.RealVolume,
	})
}

// UnmarshalJSON accepts any JSON array row. Columns are read where they are
// numbers; extra, missing or non-numeric columns are kept in the raw row and
// leave the typed field zero.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return fmt.Errorf("bar: %w", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return fmt.Errorf("bar: %w", err)
	}
	out := Bar{raw: compact.Bytes()}

	num := func(i int) (json.Number, bool) {
		if i >= len(row) {
			return "", false
		}
		var n json.Number
		if err := json.Unmarshal(row[i], &n); err != nil {
			return "", false
		}
		return n, true
	}
	ints := func(i int) int64 {
		n, ok := num(i)
		if !ok {
			return 0
		}
		if v, err := n.Int64(); err == nil {
			return v
		}
		f, _ := n.Float64()
		return int64(f)
	}
	floats := func(i int) float64 {
		n, ok := num(i)
		if !ok {
			return 0
		}
		v, _ := strconv.ParseFloat(string(n), 64)
		return v
	}

	out.Time = ints(0)
	out.Open = floats(1)
	out.High = floats(2)
	out.Low = floats(3)
	out.Close = floats(4)
	out.TickVolume = ints(5)
	out.Spread = ints(6)
	out.RealVolume = ints(7)
	*b = out
	return nil
}
