package terminal

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mt5-gateway/internal/model"
)

const testOTPSecret = "JBSWY3DPEHPK3PXP"

func startBridgeServer(t *testing.T, term Terminal, secret string) string {
	t.Helper()
	srv := httptest.NewServer(NewServer(term, secret, nil))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBridge_RoundTrip(t *testing.T) {
	ctx := context.Background()
	url := startBridgeServer(t, newTestSim(t), testOTPSecret)
	b := NewBridge(BridgeConfig{URL: url, TOTPSecret: testOTPSecret, CallTimeout: 5 * time.Second})
	defer b.Close()

	if b.Connected() {
		t.Fatal("expected no connection before the first call")
	}
	ok, err := b.Init(ctx, Credentials{Login: 5001234})
	if err != nil || !ok {
		t.Fatalf("init: %v, %v", ok, err)
	}
	if !b.Connected() {
		t.Fatal("expected connection after init")
	}

	acc, err := b.AccountInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if login, _ := acc.Int64("login"); login != 5001234 {
		t.Errorf("login = %d", login)
	}

	if ok, _ := b.SymbolSelect(ctx, "EURUSD", true); !ok {
		t.Fatal("select failed")
	}
	bars, err := b.RatesFromPos(ctx, "EURUSD", mustTF(t, "M1"), 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 5 {
		t.Fatalf("expected 5 bars, got %d", len(bars))
	}

	res, err := b.OrderSend(ctx, model.NewDealRequest(model.OrderRequest{Symbol: "EURUSD", Volume: 0.1}))
	if err != nil {
		t.Fatal(err)
	}
	if rc, _ := res.Int64("retcode"); rc != model.RetcodeDone {
		t.Errorf("retcode = %d", rc)
	}
}

func TestBridge_AbsentAndLastError(t *testing.T) {
	ctx := context.Background()
	url := startBridgeServer(t, newTestSim(t), "")
	b := NewBridge(BridgeConfig{URL: url})
	defer b.Close()

	info, err := b.SymbolInfo(ctx, "EURUSD")
	if err != nil {
		t.Fatal(err)
	}
	if info != nil {
		t.Fatalf("expected absent symbol info, got %v", info)
	}
	d, err := b.LastError(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.Code != model.DiagNoIPCConnection || d.Message != "No IPC connection" {
		t.Errorf("unexpected diagnostic %v", d)
	}
}

func TestBridge_RejectsBadOTP(t *testing.T) {
	url := startBridgeServer(t, newTestSim(t), testOTPSecret)
	b := NewBridge(BridgeConfig{URL: url})

	if _, err := b.Init(context.Background(), Credentials{}); err == nil {
		t.Fatal("expected dial without otp to fail")
	}
	if b.Connected() {
		t.Error("expected no connection")
	}
}

func TestBridge_RedialsAfterClose(t *testing.T) {
	ctx := context.Background()
	url := startBridgeServer(t, newTestSim(t), "")
	b := NewBridge(BridgeConfig{URL: url})
	defer b.Close()

	if _, err := b.Init(ctx, Credentials{}); err != nil {
		t.Fatal(err)
	}
	b.Close()
	if b.Connected() {
		t.Fatal("expected closed bridge")
	}
	if _, err := b.LastError(ctx); err != nil {
		t.Fatalf("expected re-dial on next call, got %v", err)
	}
}

func TestBridge_RegisterOnDroppedSocketFails(t *testing.T) {
	ctx := context.Background()
	url := startBridgeServer(t, newTestSim(t), "")
	b := NewBridge(BridgeConfig{URL: url})
	defer b.Close()

	conn, err := b.connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	b.drop(conn, ErrClosed)

	if _, err := b.register(conn, make(chan rpcResult, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for a dropped socket, got %v", err)
	}
	b.mu.Lock()
	n := len(b.pending)
	b.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no waiter left behind, got %d", n)
	}
	if _, err := b.LastError(ctx); err != nil {
		t.Fatalf("expected re-dial after drop, got %v", err)
	}
}

func TestBridge_ShutdownWithoutConnection(t *testing.T) {
	b := NewBridge(BridgeConfig{URL: "ws://127.0.0.1:1/none"})
	if err := b.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op shutdown, got %v", err)
	}
}

func TestBridge_UnreachableIsError(t *testing.T) {
	b := NewBridge(BridgeConfig{URL: "ws://127.0.0.1:1/none", CallTimeout: time.Second})
	if _, err := b.AccountInfo(context.Background()); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestBridge_ConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	url := startBridgeServer(t, newTestSim(t), "")
	b := NewBridge(BridgeConfig{URL: url})
	defer b.Close()
	b.Init(ctx, Credentials{})
	b.SymbolSelect(ctx, "USDJPY", true)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tick, err := b.Tick(ctx, "USDJPY")
			if err == nil && tick == nil {
				err = errors.New("absent tick")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
