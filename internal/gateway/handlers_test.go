package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"mt5-gateway/internal/journal"
	"mt5-gateway/internal/model"
	"mt5-gateway/internal/session"
	"mt5-gateway/internal/terminal"
)

// fakeTerminal records every capability call and returns canned results.
type fakeTerminal struct {
	mu    sync.Mutex
	calls []string

	initOK   bool
	selectOK bool
	account  model.Record
	info     model.Record
	bars     []model.Bar
	tick     model.Record
	result   model.Record
	diag     model.Diagnostic
	err      error // returned by every call when set

	lastReq   model.TradeRequest
	lastTF    model.Timeframe
	lastCount int
	lastFrom  time.Time
	lastTo    time.Time
}

func newFake() *fakeTerminal {
	return &fakeTerminal{
		initOK:   true,
		selectOK: true,
		info:     model.Record{"name": "EURUSD"},
		diag:     model.Diagnostic{Code: model.DiagOK, Message: "Success"},
	}
}

func (f *fakeTerminal) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	return f.err
}

func (f *fakeTerminal) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTerminal) Init(context.Context, terminal.Credentials) (bool, error) {
	if err := f.record(terminal.MethodInitialize); err != nil {
		return false, err
	}
	return f.initOK, nil
}

func (f *fakeTerminal) Shutdown(context.Context) error {
	return f.record(terminal.MethodShutdown)
}

func (f *fakeTerminal) AccountInfo(context.Context) (model.Record, error) {
	if err := f.record(terminal.MethodAccountInfo); err != nil {
		return nil, err
	}
	return f.account, nil
}

func (f *fakeTerminal) SymbolSelect(_ context.Context, symbol string, _ bool) (bool, error) {
	if err := f.record(terminal.MethodSymbolSelect); err != nil {
		return false, err
	}
	return f.selectOK, nil
}

func (f *fakeTerminal) SymbolInfo(context.Context, string) (model.Record, error) {
	if err := f.record(terminal.MethodSymbolInfo); err != nil {
		return nil, err
	}
	return f.info, nil
}

func (f *fakeTerminal) RatesFromPos(_ context.Context, _ string, tf model.Timeframe, _, count int) ([]model.Bar, error) {
	if err := f.record(terminal.MethodRatesFromPos); err != nil {
		return nil, err
	}
	f.lastTF, f.lastCount = tf, count
	return f.bars, nil
}

func (f *fakeTerminal) RatesRange(_ context.Context, _ string, _ model.Timeframe, from, to time.Time) ([]model.Bar, error) {
	if err := f.record(terminal.MethodRatesRange); err != nil {
		return nil, err
	}
	f.lastFrom, f.lastTo = from, to
	return f.bars, nil
}

func (f *fakeTerminal) Tick(context.Context, string) (model.Record, error) {
	if err := f.record(terminal.MethodTick); err != nil {
		return nil, err
	}
	return f.tick, nil
}

func (f *fakeTerminal) OrderSend(_ context.Context, req model.TradeRequest) (model.Record, error) {
	if err := f.record(terminal.MethodOrderSend); err != nil {
		return nil, err
	}
	f.lastReq = req
	return f.result, nil
}

func (f *fakeTerminal) LastError(context.Context) (model.Diagnostic, error) {
	if err := f.record(terminal.MethodLastError); err != nil {
		return model.Diagnostic{}, err
	}
	return f.diag, nil
}

func newTestGateway(t *testing.T, ft *fakeTerminal, mutate ...func(*Config)) http.Handler {
	t.Helper()
	cfg := Config{
		Session:        session.New(ft, session.Options{}),
		OrderComment:   "js-bot",
		OrderDeviation: 20,
		LazyConnect:    true,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectCalls(t *testing.T, ft *fakeTerminal, want ...string) {
	t.Helper()
	got := ft.Calls()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestHealth(t *testing.T) {
	ft := newFake()
	ft.err = errors.New("terminal down")
	rec := do(t, newTestGateway(t, ft), "GET", "/health", "")

	if rec.Code != 200 || strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
	expectCalls(t, ft)
}

func TestShutdown_AlwaysOK(t *testing.T) {
	ft := newFake()
	ft.err = errors.New("no session")
	rec := do(t, newTestGateway(t, ft), "POST", "/shutdown", "")

	if rec.Code != 200 || strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Errorf("shutdown = %d %s", rec.Code, rec.Body.String())
	}
	expectCalls(t, ft, terminal.MethodShutdown)
}

func TestConnect(t *testing.T) {
	ft := newFake()
	ft.account = model.Record{"login": json.Number("5001234")}
	rec := do(t, newTestGateway(t, ft), "POST", "/connect", "")

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"account":{"login":5001234},"connected":true}` {
		t.Errorf("body = %s", got)
	}
}

func TestConnect_NoAccount(t *testing.T) {
	ft := newFake()
	rec := do(t, newTestGateway(t, ft), "POST", "/connect", "")

	if got := strings.TrimSpace(rec.Body.String()); got != `{"account":null,"connected":true}` {
		t.Errorf("body = %s", got)
	}
}

func TestConnect_Failure(t *testing.T) {
	ft := newFake()
	ft.initOK = false
	ft.diag = model.Diagnostic{Code: model.DiagAuthFailed, Message: "Terminal: Authorization failed"}
	rec := do(t, newTestGateway(t, ft), "POST", "/connect", "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"connected":false,"error":[-6,"Terminal: Authorization failed"]}` {
		t.Errorf("body = %s", got)
	}
}

func TestBadTimeframe_NoCapabilityCalls(t *testing.T) {
	for _, path := range []string{"/rates", "/rates_range"} {
		ft := newFake()
		rec := do(t, newTestGateway(t, ft), "POST", path,
			`{"symbol":"EURUSD","timeframe":"W1","time_from":1,"time_to":2}`)

		if rec.Code != 400 {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		body := decode(t, rec)
		if body["error"] != KindBadTimeframe || body["tf"] != "W1" {
			t.Errorf("%s: body = %v", path, body)
		}
		allowed, _ := body["allowed"].([]any)
		if len(allowed) != 7 {
			t.Errorf("%s: allowed = %v", path, body["allowed"])
		}
		if _, ok := body["last_error"]; ok {
			t.Errorf("%s: validation failure must not carry last_error", path)
		}
		expectCalls(t, ft)
	}
}

func TestTimeframe_NotEnabled(t *testing.T) {
	ft := newFake()
	tfs, _ := model.NewTimeframeSet([]string{"M1", "H1"})
	h := newTestGateway(t, ft, func(c *Config) { c.Timeframes = tfs })

	rec := do(t, h, "POST", "/rates", `{"symbol":"EURUSD","timeframe":"M5"}`)
	body := decode(t, rec)
	if body["error"] != KindBadTimeframe {
		t.Fatalf("body = %v", body)
	}
	if got := body["allowed"].([]any); len(got) != 2 || got[0] != "M1" || got[1] != "H1" {
		t.Errorf("allowed = %v", got)
	}
}

func TestRatesRange_InvalidRange(t *testing.T) {
	for _, body := range []string{
		`{"symbol":"EURUSD","timeframe":"H1","time_from":1700003600,"time_to":1700000000}`,
		`{"symbol":"EURUSD","timeframe":"H1","time_from":1700000000,"time_to":1700000000}`,
	} {
		ft := newFake()
		rec := do(t, newTestGateway(t, ft), "POST", "/rates_range", body)

		if rec.Code != 400 {
			t.Fatalf("status = %d", rec.Code)
		}
		out := decode(t, rec)
		if out["error"] != KindInvalidTimeRange {
			t.Errorf("body = %v", out)
		}
		if out["dt_from"] == nil || out["dt_to"] == nil {
			t.Errorf("expected both timestamps echoed: %v", out)
		}
		expectCalls(t, ft)
	}
}

func TestRatesRange_Example(t *testing.T) {
	ft := newFake()
	ft.bars = []model.Bar{{Time: 1700000000, Open: 1.0700, High: 1.0705, Low: 1.0698, Close: 1.0702, TickVolume: 120, Spread: 2}}
	rec := do(t, newTestGateway(t, ft), "POST", "/rates_range",
		`{"symbol":"EURUSD","timeframe":"H1","time_from":1700000000,"time_to":1700003600}`)

	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	want := `{"rates":[[1700000000,1.07,1.0705,1.0698,1.0702,120,2,0]]}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
	if ft.lastFrom.Unix() != 1700000000 || ft.lastTo.Unix() != 1700003600 {
		t.Errorf("range = %v..%v", ft.lastFrom, ft.lastTo)
	}
	expectCalls(t, ft,
		terminal.MethodInitialize, terminal.MethodSymbolSelect,
		terminal.MethodSymbolInfo, terminal.MethodRatesRange)
}

func TestRates_RelaysRowsVerbatim(t *testing.T) {
	rows := `[[1700000000,1.07,1.0705,1.0698,1.0702,120.7,2,0],[1700003600,1.0702,1.071,1.07,1.0709,88,2,0,"extra"]]`
	ft := newFake()
	if err := json.Unmarshal([]byte(rows), &ft.bars); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{"/rates", "/rates_range"} {
		rec := do(t, newTestGateway(t, ft), "POST", path,
			`{"symbol":"EURUSD","timeframe":"H1","time_from":1700000000,"time_to":1700007200}`)
		if rec.Code != 200 {
			t.Fatalf("%s: status = %d: %s", path, rec.Code, rec.Body.String())
		}
		if got := strings.TrimSpace(rec.Body.String()); got != `{"rates":`+rows+`}` {
			t.Errorf("%s: body = %s", path, got)
		}
	}
}

func TestRatesRange_StringTimestamps(t *testing.T) {
	ft := newFake()
	ft.bars = []model.Bar{{Time: 1700000000}}
	rec := do(t, newTestGateway(t, ft), "POST", "/rates_range",
		`{"symbol":"EURUSD","timeframe":"H1","time_from":"1700000000","time_to":"1700003600"}`)
	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRatesRange_NonIntegerTimestamp(t *testing.T) {
	for _, body := range []string{
		`{"symbol":"EURUSD","time_from":1700000000.5,"time_to":1700003600}`,
		`{"symbol":"EURUSD","time_from":"yesterday","time_to":1700003600}`,
		`{"symbol":"EURUSD","time_to":1700003600}`,
	} {
		ft := newFake()
		rec := do(t, newTestGateway(t, ft), "POST", "/rates_range", body)
		out := decode(t, rec)
		if rec.Code != 400 || out["error"] != KindBadRequest {
			t.Errorf("%s: got %d %v", body, rec.Code, out)
		}
		if !strings.Contains(out["detail"].(string), "time_from") {
			t.Errorf("detail should name the field: %v", out["detail"])
		}
		expectCalls(t, ft)
	}
}

func TestRatesRange_FetchFailedEchoesParams(t *testing.T) {
	ft := newFake()
	ft.diag = model.Diagnostic{Code: model.DiagOK, Message: "Success"}
	rec := do(t, newTestGateway(t, ft), "POST", "/rates_range",
		`{"symbol":"EURUSD","timeframe":"H1","time_from":1700000000,"time_to":1700003600}`)

	if rec.Code != 400 {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	want := map[string]any{
		"error":      KindFetchFailed,
		"symbol":     "EURUSD",
		"tf":         "H1",
		"dt_from":    "2023-11-14T22:13:20Z",
		"dt_to":      "2023-11-14T23:13:20Z",
		"last_error": []any{float64(1), "Success"},
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("body = %v\nwant %v", out, want)
	}
}

func TestRatesRange_SymbolInfoMissing(t *testing.T) {
	ft := newFake()
	ft.info = nil
	rec := do(t, newTestGateway(t, ft), "POST", "/rates_range",
		`{"symbol":"EURUSD","timeframe":"H1","time_from":1700000000,"time_to":1700003600}`)

	if out := decode(t, rec); out["error"] != KindSymbolInfoUnavailable {
		t.Errorf("body = %v", out)
	}
	expectCalls(t, ft,
		terminal.MethodInitialize, terminal.MethodSymbolSelect,
		terminal.MethodSymbolInfo, terminal.MethodLastError)
}

func TestSymbolSelectFailed_StopsFurtherCalls(t *testing.T) {
	cases := map[string]string{
		"/rates":       `{"symbol":"XYZUSD","timeframe":"M5","count":10}`,
		"/rates_range": `{"symbol":"XYZUSD","timeframe":"H1","time_from":1700000000,"time_to":1700003600}`,
		"/tick":        `{"symbol":"XYZUSD"}`,
		"/order":       `{"symbol":"XYZUSD","volume":0.1,"type":0,"price":1.07}`,
	}
	for path, body := range cases {
		ft := newFake()
		ft.selectOK = false
		ft.diag = model.Diagnostic{Code: model.DiagFail, Message: "Terminal: Call failed"}
		rec := do(t, newTestGateway(t, ft), "POST", path, body)

		if rec.Code != 400 {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		out := decode(t, rec)
		if out["error"] != KindSymbolSelectFailed || out["symbol"] != "XYZUSD" {
			t.Errorf("%s: body = %v", path, out)
		}
		expectCalls(t, ft, terminal.MethodInitialize, terminal.MethodSymbolSelect, terminal.MethodLastError)
	}
}

func TestRates_Defaults(t *testing.T) {
	ft := newFake()
	ft.bars = []model.Bar{}
	rec := do(t, newTestGateway(t, ft), "POST", "/rates", `{"symbol":"EURUSD"}`)

	if rec.Code != 200 || strings.TrimSpace(rec.Body.String()) != `{"rates":[]}` {
		t.Fatalf("rates = %d %s", rec.Code, rec.Body.String())
	}
	if ft.lastCount != 300 {
		t.Errorf("count = %d, want 300", ft.lastCount)
	}
}

func TestRates_DefaultTimeframeFallsBackToEnabled(t *testing.T) {
	ft := newFake()
	ft.bars = []model.Bar{}
	tfs, _ := model.NewTimeframeSet([]string{"H1", "H4"})
	h := newTestGateway(t, ft, func(c *Config) {
		c.Timeframes = tfs
		c.DefaultTimeframe = "M1"
	})

	rec := do(t, h, "POST", "/rates", `{"symbol":"EURUSD"}`)
	if rec.Code != 200 {
		t.Fatalf("rates = %d %s", rec.Code, rec.Body.String())
	}
	h1, _ := tfs.Resolve("H1")
	if ft.lastTF != h1 {
		t.Errorf("timeframe = %v, want H1", ft.lastTF)
	}
}

func TestRates_NonPositiveCount(t *testing.T) {
	ft := newFake()
	rec := do(t, newTestGateway(t, ft), "POST", "/rates", `{"symbol":"EURUSD","count":0}`)
	if out := decode(t, rec); out["error"] != KindBadRequest {
		t.Errorf("body = %v", out)
	}
	expectCalls(t, ft)
}

func TestRates_FetchFailed(t *testing.T) {
	ft := newFake()
	rec := do(t, newTestGateway(t, ft), "POST", "/rates", `{"symbol":"EURUSD","timeframe":"M15","count":5}`)
	out := decode(t, rec)
	if out["error"] != KindFetchFailed || out["tf"] != "M15" || out["count"] != float64(5) {
		t.Errorf("body = %v", out)
	}
}

func TestTick(t *testing.T) {
	ft := newFake()
	ft.tick = model.Record{"bid": 1.0701, "ask": 1.0703, "time_msc": json.Number("1700000000123")}
	rec := do(t, newTestGateway(t, ft), "POST", "/tick", `{"symbol":"EURUSD"}`)

	want := `{"tick":{"ask":1.0703,"bid":1.0701,"time_msc":1700000000123}}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}

	ft.tick = nil
	rec = do(t, newTestGateway(t, ft), "POST", "/tick", `{"symbol":"EURUSD"}`)
	if out := decode(t, rec); out["error"] != KindTickUnavailable {
		t.Errorf("body = %v", out)
	}
}

func TestAccount(t *testing.T) {
	ft := newFake()
	rec := do(t, newTestGateway(t, ft), "POST", "/account", "")
	if out := decode(t, rec); rec.Code != 400 || out["error"] != KindAccountUnavailable {
		t.Errorf("account = %d %v", rec.Code, out)
	}

	ft.account = model.Record{"balance": 10000.5}
	rec = do(t, newTestGateway(t, ft), "POST", "/account", "")
	if got := strings.TrimSpace(rec.Body.String()); got != `{"account":{"balance":10000.5}}` {
		t.Errorf("body = %s", got)
	}
}

func TestSymbolInfo_ReturnsRecordItself(t *testing.T) {
	ft := newFake()
	ft.info = model.Record{"name": "GOLD", "digits": json.Number("2")}
	rec := do(t, newTestGateway(t, ft), "POST", "/symbol_info", `{"symbol":"GOLD"}`)
	if got := strings.TrimSpace(rec.Body.String()); got != `{"digits":2,"name":"GOLD"}` {
		t.Errorf("body = %s", got)
	}
	expectCalls(t, ft, terminal.MethodInitialize, terminal.MethodSymbolInfo)
}

func TestOrder_Example(t *testing.T) {
	ft := newFake()
	ft.result = model.Record{"retcode": json.Number("10009"), "order": json.Number("123")}
	rec := do(t, newTestGateway(t, ft), "POST", "/order", `{"symbol":"EURUSD","volume":0.1,"type":0,"price":1.0700}`)

	if rec.Code != 200 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"result":{"order":123,"retcode":10009}}` {
		t.Errorf("body = %s", got)
	}

	want := model.TradeRequest{
		Action: model.TradeActionDeal, Symbol: "EURUSD", Volume: 0.1, Type: 0, Price: 1.07,
		Deviation: 20, Comment: "js-bot",
		TypeTime: model.OrderTimeGTC, TypeFilling: model.OrderFillingFOK,
	}
	if ft.lastReq != want {
		t.Errorf("request = %+v\nwant %+v", ft.lastReq, want)
	}
}

func TestOrder_RejectedRetcodeStillOK(t *testing.T) {
	ft := newFake()
	ft.result = model.Record{"retcode": json.Number("10019"), "comment": "No money"}
	rec := do(t, newTestGateway(t, ft), "POST", "/order",
		`{"symbol":"EURUSD","volume":5,"type":1,"price":1.07,"sl":1.08,"tp":1.06,"deviation":5,"magic":42,"comment":"orb"}`)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ft.lastReq.Deviation != 5 || ft.lastReq.Magic != 42 || ft.lastReq.Comment != "orb" || ft.lastReq.SL != 1.08 {
		t.Errorf("request = %+v", ft.lastReq)
	}
}

func TestOrder_Validation(t *testing.T) {
	for _, body := range []string{
		`{"volume":0.1,"type":0,"price":1.07}`,
		`{"symbol":"EURUSD","type":0,"price":1.07}`,
		`{"symbol":"EURUSD","volume":0.1,"price":1.07}`,
		`{"symbol":"EURUSD","volume":0.1,"type":0}`,
		`{"symbol":"EURUSD","volume":0.1,"type":0.5,"price":1.07}`,
		`not json`,
	} {
		ft := newFake()
		rec := do(t, newTestGateway(t, ft), "POST", "/order", body)
		if out := decode(t, rec); rec.Code != 400 || out["error"] != KindBadRequest {
			t.Errorf("%s: got %d %v", body, rec.Code, out)
		}
		expectCalls(t, ft)
	}
}

func TestOrder_SendFailed(t *testing.T) {
	ft := newFake()
	ft.diag = model.Diagnostic{Code: model.DiagInvalidParams, Message: "Invalid \"request\" argument"}
	rec := do(t, newTestGateway(t, ft), "POST", "/order", `{"symbol":"EURUSD","volume":0.1,"type":0,"price":1.07}`)

	out := decode(t, rec)
	if rec.Code != 400 || out["error"] != KindOrderSendFailed {
		t.Errorf("got %d %v", rec.Code, out)
	}
}

func TestOrder_JournalAndListing(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ft := newFake()
	ft.result = model.Record{"retcode": json.Number("10009"), "order": json.Number("77")}
	h := newTestGateway(t, ft, func(c *Config) { c.Journal = j })

	do(t, h, "POST", "/order", `{"symbol":"EURUSD","volume":0.1,"type":0,"price":1.07}`)
	ft.result = nil
	do(t, h, "POST", "/order", `{"symbol":"GOLD","volume":1,"type":1,"price":2000}`)

	rec := do(t, h, "GET", "/orders?limit=10", "")
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Orders []journal.Row `json:"orders"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(out.Orders))
	}
	if out.Orders[0].Symbol != "GOLD" || out.Orders[0].OK {
		t.Errorf("newest = %+v", out.Orders[0])
	}
	if out.Orders[1].Ticket == nil || *out.Orders[1].Ticket != 77 {
		t.Errorf("oldest = %+v", out.Orders[1])
	}
}

func TestOrders_Disabled(t *testing.T) {
	rec := do(t, newTestGateway(t, newFake()), "GET", "/orders", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLazyEnsure_InitFailure(t *testing.T) {
	ft := newFake()
	ft.initOK = false
	ft.diag = model.Diagnostic{Code: model.DiagNoIPCConnection, Message: "No IPC connection"}
	rec := do(t, newTestGateway(t, ft), "POST", "/tick", `{"symbol":"EURUSD"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["error"] != KindTerminalInitFailed {
		t.Errorf("body = %v", out)
	}
	expectCalls(t, ft, terminal.MethodInitialize, terminal.MethodLastError)
}

func TestLazyConnectDisabled(t *testing.T) {
	ft := newFake()
	ft.tick = model.Record{"bid": 1.0}
	h := newTestGateway(t, ft, func(c *Config) { c.LazyConnect = false })
	do(t, h, "POST", "/tick", `{"symbol":"EURUSD"}`)
	expectCalls(t, ft, terminal.MethodSymbolSelect, terminal.MethodTick)
}

func TestTransportError(t *testing.T) {
	ft := newFake()
	ft.err = errors.New("bridge dial ws://127.0.0.1:5006/bridge: connection refused")
	rec := do(t, newTestGateway(t, ft), "POST", "/tick", `{"symbol":"EURUSD"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["error"] != KindTerminalUnreachable || !strings.Contains(out["detail"].(string), "connection refused") {
		t.Errorf("body = %v", out)
	}
}

func TestCORSAndTrace(t *testing.T) {
	h := newTestGateway(t, newFake(), func(c *Config) { c.CORSAllowOrigin = "http://localhost:3000" })

	rec := do(t, h, "OPTIONS", "/rates", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "bot-42")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	if got := out.Header().Get("X-Request-ID"); got != "bot-42" {
		t.Errorf("trace header = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, newTestGateway(t, newFake()), "GET", "/rates", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	ft := newFake()
	h := newTestGateway(t, ft)
	do(t, h, "POST", "/connect", "")
	do(t, h, "GET", "/health", "")

	rec := do(t, h, "GET", "/stats", "")
	var s Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if !s.Connected {
		t.Error("expected connected after /connect")
	}
	if s.LatencyMs.Total != 2 {
		t.Errorf("latency total = %d, want 2", s.LatencyMs.Total)
	}

	rec = do(t, h, "GET", "/metrics", "")
	if !strings.Contains(rec.Body.String(), `gateway_requests_total{route="/health",status="200"} 1`) {
		t.Errorf("metrics missing request counter")
	}
}
