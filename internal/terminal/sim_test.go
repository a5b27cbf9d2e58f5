package terminal

import (
	"context"
	"reflect"
	"testing"
	"time"

	"mt5-gateway/internal/model"
)

var simNow = time.Date(2024, 3, 4, 12, 0, 30, 0, time.UTC)

func newTestSim(t *testing.T) *Sim {
	t.Helper()
	return NewSim(SimConfig{Now: func() time.Time { return simNow }})
}

func mustTF(t *testing.T, tok string) model.Timeframe {
	t.Helper()
	tf, ok := model.LookupTimeframe(tok)
	if !ok {
		t.Fatalf("unknown timeframe %s", tok)
	}
	return tf
}

func TestSim_NoSessionReportsNoIPC(t *testing.T) {
	ctx := context.Background()
	s := newTestSim(t)

	acc, err := s.AccountInfo(ctx)
	if err != nil || acc != nil {
		t.Fatalf("expected absent account, got %v, %v", acc, err)
	}
	d, _ := s.LastError(ctx)
	if d.Code != model.DiagNoIPCConnection {
		t.Errorf("expected %d, got %v", model.DiagNoIPCConnection, d)
	}
}

func TestSim_InitWithWrongPassword(t *testing.T) {
	ctx := context.Background()
	s := NewSim(SimConfig{Password: "secret"})

	ok, err := s.Init(ctx, Credentials{Password: "nope"})
	if err != nil || ok {
		t.Fatalf("expected refusal, got %v, %v", ok, err)
	}
	d, _ := s.LastError(ctx)
	if d.Code != model.DiagAuthFailed {
		t.Errorf("expected auth failure, got %v", d)
	}

	ok, _ = s.Init(ctx, Credentials{Password: "secret"})
	if !ok {
		t.Fatal("expected init to succeed with the right password")
	}
}

func TestSim_UnknownSymbol(t *testing.T) {
	ctx := context.Background()
	s := newTestSim(t)
	s.Init(ctx, Credentials{})

	ok, _ := s.SymbolSelect(ctx, "NOPE", true)
	if ok {
		t.Fatal("expected select to fail")
	}
	d, _ := s.LastError(ctx)
	if d.Code != model.DiagFail {
		t.Errorf("expected %d, got %v", model.DiagFail, d)
	}
}

func TestSim_RatesFromPos(t *testing.T) {
	ctx := context.Background()
	s := newTestSim(t)
	s.Init(ctx, Credentials{})
	s.SymbolSelect(ctx, "EURUSD", true)

	bars, err := s.RatesFromPos(ctx, "EURUSD", mustTF(t, "M5"), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 10 {
		t.Fatalf("expected 10 bars, got %d", len(bars))
	}
	last := bars[len(bars)-1].Time
	if want := simNow.Truncate(5 * time.Minute).Unix(); last != want {
		t.Errorf("last bar at %d, want %d", last, want)
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Time-bars[i-1].Time != 300 {
			t.Fatalf("bars %d and %d not one period apart", i-1, i)
		}
		if bars[i].High < bars[i].Low {
			t.Fatalf("bar %d high below low", i)
		}
	}

	again, _ := s.RatesFromPos(ctx, "EURUSD", mustTF(t, "M5"), 0, 10)
	if !reflect.DeepEqual(again[3], bars[3]) {
		t.Error("expected deterministic bars")
	}

	none, _ := s.RatesFromPos(ctx, "EURUSD", mustTF(t, "M5"), 0, 0)
	if none != nil {
		t.Error("expected absent for count 0")
	}
}

func TestSim_RatesRange(t *testing.T) {
	ctx := context.Background()
	s := newTestSim(t)
	s.Init(ctx, Credentials{})
	s.SymbolSelect(ctx, "GOLD", true)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars, _ := s.RatesRange(ctx, "GOLD", mustTF(t, "H1"), from, from.Add(24*time.Hour))
	if len(bars) != 24 {
		t.Fatalf("expected 24 bars, got %d", len(bars))
	}
	if bars[0].Time != from.Unix() {
		t.Errorf("first bar %d, want %d", bars[0].Time, from.Unix())
	}

	// Entirely in the future: absent, and the terminal still reports success.
	future := simNow.Add(48 * time.Hour)
	bars, _ = s.RatesRange(ctx, "GOLD", mustTF(t, "H1"), future, future.Add(time.Hour))
	if bars != nil {
		t.Fatalf("expected absent, got %d bars", len(bars))
	}
	d, _ := s.LastError(ctx)
	if d.Code != model.DiagOK {
		t.Errorf("expected success diagnostic, got %v", d)
	}
}

func TestSim_OrderSend(t *testing.T) {
	ctx := context.Background()
	s := newTestSim(t)
	s.Init(ctx, Credentials{})

	req := model.NewDealRequest(model.OrderRequest{Symbol: "EURUSD", Volume: 0.1, Type: model.OrderTypeBuy})
	first, _ := s.OrderSend(ctx, req)
	second, _ := s.OrderSend(ctx, req)
	if rc, _ := first.Int64("retcode"); rc != model.RetcodeDone {
		t.Fatalf("retcode %d, want %d", rc, model.RetcodeDone)
	}
	o1, _ := first.Int64("order")
	o2, _ := second.Int64("order")
	if o2 != o1+1 {
		t.Errorf("expected consecutive tickets, got %d then %d", o1, o2)
	}

	req.Volume = 0
	res, _ := s.OrderSend(ctx, req)
	if rc, _ := res.Int64("retcode"); rc != model.RetcodeInvalidVol {
		t.Errorf("retcode %d, want %d", rc, model.RetcodeInvalidVol)
	}

	req.Symbol = "NOPE"
	if res, _ := s.OrderSend(ctx, req); res != nil {
		t.Errorf("expected absent result for unknown symbol, got %v", res)
	}
}

func TestSim_ShutdownClearsSession(t *testing.T) {
	ctx := context.Background()
	s := newTestSim(t)
	s.Init(ctx, Credentials{})
	s.Shutdown(ctx)

	if tick, _ := s.Tick(ctx, "EURUSD"); tick != nil {
		t.Fatal("expected absent tick after shutdown")
	}
}
