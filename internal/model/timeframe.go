package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a recognized timeframe token and its native terminal constant.
type Timeframe struct {
	Token  string `json:"token"`
	Native int    `json:"native"`
}

// nativeTimeframes maps tokens to terminal TIMEFRAME_* constants.
var nativeTimeframes = map[string]int{
	"M1":  1,
	"M5":  5,
	"M15": 15,
	"M30": 30,
	"H1":  16385,
	"H4":  16388,
	"D1":  16408,
}

var timeframePeriods = map[string]time.Duration{
	"M1":  time.Minute,
	"M5":  5 * time.Minute,
	"M15": 15 * time.Minute,
	"M30": 30 * time.Minute,
	"H1":  time.Hour,
	"H4":  4 * time.Hour,
	"D1":  24 * time.Hour,
}

// Period returns the bar length of the timeframe.
func (tf Timeframe) Period() time.Duration {
	return timeframePeriods[tf.Token]
}

// TimeframeByNative resolves a terminal TIMEFRAME_* constant.
func TimeframeByNative(native int) (Timeframe, bool) {
	for tok, n := range nativeTimeframes {
		if n == native {
			return Timeframe{Token: tok, Native: n}, true
		}
	}
	return Timeframe{}, false
}

// LookupTimeframe resolves a single token against all known timeframes.
func LookupTimeframe(token string) (Timeframe, bool) {
	token = strings.ToUpper(strings.TrimSpace(token))
	n, ok := nativeTimeframes[token]
	if !ok {
		return Timeframe{}, false
	}
	return Timeframe{Token: token, Native: n}, true
}

// TimeframeSet is the configured subset of timeframes a gateway accepts.
// Order is preserved for error messages.
type TimeframeSet struct {
	order []string
	byTok map[string]Timeframe
}

// NewTimeframeSet builds a set from tokens. Unknown tokens are returned in
// skipped so the caller can log them.
func NewTimeframeSet(tokens []string) (set *TimeframeSet, skipped []string) {
	set = &TimeframeSet{byTok: make(map[string]Timeframe, len(tokens))}
	for _, tok := range tokens {
		tf, ok := LookupTimeframe(tok)
		if !ok {
			skipped = append(skipped, tok)
			continue
		}
		if _, dup := set.byTok[tf.Token]; dup {
			continue
		}
		set.byTok[tf.Token] = tf
		set.order = append(set.order, tf.Token)
	}
	return set, skipped
}

// Resolve looks up a request token. Matching is exact: the terminal tokens are
// upper-case and clients are expected to send them as such.
func (s *TimeframeSet) Resolve(token string) (Timeframe, bool) {
	tf, ok := s.byTok[token]
	return tf, ok
}

// Allowed returns the accepted tokens in configuration order.
func (s *TimeframeSet) Allowed() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of accepted timeframes.
func (s *TimeframeSet) Len() int { return len(s.order) }

func (s *TimeframeSet) String() string {
	return fmt.Sprintf("[%s]", strings.Join(s.order, ","))
}
