// Package terminal defines the trading terminal capability consumed by the
// gateway, a websocket bridge client that implements it, a bridge server that
// exposes any implementation over the same protocol, and a simulated terminal.
//
// Absent results (no account, unknown symbol, no bars, rejected submission)
// are reported as nil values, never as errors. Errors are reserved for
// transport failures between the gateway and the terminal. After an absent
// result the terminal's own diagnostic is available from LastError.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mt5-gateway/internal/model"
)

// Credentials are the optional initialize parameters passed to the terminal.
type Credentials struct {
	Login     int64  `json:"login,omitempty"`
	Password  string `json:"password,omitempty"`
	Server    string `json:"server,omitempty"`
	Path      string `json:"path,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// Terminal is the external trading terminal capability.
type Terminal interface {
	// Init opens (or re-opens) the terminal session. false means the terminal
	// refused; consult LastError.
	Init(ctx context.Context, creds Credentials) (bool, error)

	// Shutdown releases the session. It is safe to call without a session.
	Shutdown(ctx context.Context) error

	AccountInfo(ctx context.Context) (model.Record, error)
	SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error)
	SymbolInfo(ctx context.Context, symbol string) (model.Record, error)

	// RatesFromPos returns count bars ending start bars before the current one,
	// oldest first.
	RatesFromPos(ctx context.Context, symbol string, tf model.Timeframe, start, count int) ([]model.Bar, error)

	// RatesRange returns bars whose open time falls in [from, to).
	RatesRange(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error)

	Tick(ctx context.Context, symbol string) (model.Record, error)
	OrderSend(ctx context.Context, req model.TradeRequest) (model.Record, error)
	LastError(ctx context.Context) (model.Diagnostic, error)
}

var (
	// ErrClosed is returned for calls in flight when the bridge connection drops.
	ErrClosed = errors.New("terminal bridge connection closed")

	// ErrNotConnected is returned when no bridge endpoint is configured.
	ErrNotConnected = errors.New("terminal bridge not configured")
)

// RemoteError is a protocol-level error returned by the bridge (unknown
// method, malformed params). It is distinct from a terminal refusal.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}
