package terminal

import (
	"context"
	"time"

	"mt5-gateway/internal/model"
)

// Call outcomes reported to an Observer.
const (
	OutcomeOK     = "ok"
	OutcomeAbsent = "absent"
	OutcomeError  = "error"
)

// Observer receives one notification per terminal call.
type Observer interface {
	ObserveCall(method string, d time.Duration, outcome string)
}

// Observe wraps t so every call is reported to o.
func Observe(t Terminal, o Observer) Terminal {
	if o == nil {
		return t
	}
	return &observed{next: t, obs: o}
}

type observed struct {
	next Terminal
	obs  Observer
}

func (o *observed) done(method string, start time.Time, absent bool, err error) {
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeError
	case absent:
		outcome = OutcomeAbsent
	}
	o.obs.ObserveCall(method, time.Since(start), outcome)
}

func (o *observed) Init(ctx context.Context, creds Credentials) (bool, error) {
	start := time.Now()
	ok, err := o.next.Init(ctx, creds)
	o.done(MethodInitialize, start, !ok, err)
	return ok, err
}

func (o *observed) Shutdown(ctx context.Context) error {
	start := time.Now()
	err := o.next.Shutdown(ctx)
	o.done(MethodShutdown, start, false, err)
	return err
}

func (o *observed) AccountInfo(ctx context.Context) (model.Record, error) {
	start := time.Now()
	rec, err := o.next.AccountInfo(ctx)
	o.done(MethodAccountInfo, start, rec == nil, err)
	return rec, err
}

func (o *observed) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	start := time.Now()
	ok, err := o.next.SymbolSelect(ctx, symbol, enable)
	o.done(MethodSymbolSelect, start, !ok, err)
	return ok, err
}

func (o *observed) SymbolInfo(ctx context.Context, symbol string) (model.Record, error) {
	start := time.Now()
	rec, err := o.next.SymbolInfo(ctx, symbol)
	o.done(MethodSymbolInfo, start, rec == nil, err)
	return rec, err
}

func (o *observed) RatesFromPos(ctx context.Context, symbol string, tf model.Timeframe, pos, count int) ([]model.Bar, error) {
	start := time.Now()
	bars, err := o.next.RatesFromPos(ctx, symbol, tf, pos, count)
	o.done(MethodRatesFromPos, start, bars == nil, err)
	return bars, err
}

func (o *observed) RatesRange(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error) {
	start := time.Now()
	bars, err := o.next.RatesRange(ctx, symbol, tf, from, to)
	o.done(MethodRatesRange, start, bars == nil, err)
	return bars, err
}

func (o *observed) Tick(ctx context.Context, symbol string) (model.Record, error) {
	start := time.Now()
	rec, err := o.next.Tick(ctx, symbol)
	o.done(MethodTick, start, rec == nil, err)
	return rec, err
}

func (o *observed) OrderSend(ctx context.Context, req model.TradeRequest) (model.Record, error) {
	start := time.Now()
	rec, err := o.next.OrderSend(ctx, req)
	o.done(MethodOrderSend, start, rec == nil, err)
	return rec, err
}

func (o *observed) LastError(ctx context.Context) (model.Diagnostic, error) {
	start := time.Now()
	d, err := o.next.LastError(ctx)
	o.done(MethodLastError, start, false, err)
	return d, err
}
