package terminal

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"mt5-gateway/internal/model"
)

// maxSimBars caps a single range request, mirroring the terminal's own limit
// on bars held per chart.
const maxSimBars = 100000

// SimSymbol describes one instrument served by the simulated terminal.
type SimSymbol struct {
	Name   string
	Base   float64 // mid price the synthetic series oscillates around
	Digits int
	Spread int64 // points
}

// DefaultSimSymbols are the instruments the downloader and bots trade.
var DefaultSimSymbols = []SimSymbol{
	{Name: "EURUSD", Base: 1.0700, Digits: 5, Spread: 2},
	{Name: "USDJPY", Base: 149.50, Digits: 3, Spread: 3},
	{Name: "EURNZD", Base: 1.7900, Digits: 5, Spread: 12},
	{Name: "GOLD", Base: 2000.00, Digits: 2, Spread: 25},
	{Name: "Usa500", Base: 4500.0, Digits: 1, Spread: 5},
}

// SimConfig configures the simulated terminal.
type SimConfig struct {
	Symbols  []SimSymbol
	Login    int64
	Password string // when set, Init must present the same password
	Server   string
	Balance  float64
	Now      func() time.Time
}

// Sim is a deterministic in-memory terminal. Prices are a smooth function of
// time so repeated queries for the same range return identical bars. Like
// the real terminal it reports empty ranges as absent.
type Sim struct {
	cfg SimConfig

	mu        sync.Mutex
	connected bool
	lastErr   model.Diagnostic
	selected  map[string]bool
	symbols   map[string]SimSymbol
	ticket    int64
}

// NewSim creates a simulated terminal. Zero-value fields get defaults.
func NewSim(cfg SimConfig) *Sim {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultSimSymbols
	}
	if cfg.Login == 0 {
		cfg.Login = 5001234
	}
	if cfg.Server == "" {
		cfg.Server = "Sim-Demo"
	}
	if cfg.Balance == 0 {
		cfg.Balance = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	symbols := make(map[string]SimSymbol, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s.Name] = s
	}
	return &Sim{
		cfg:      cfg,
		lastErr:  model.Diagnostic{Code: model.DiagOK, Message: "Success"},
		selected: make(map[string]bool),
		symbols:  symbols,
		ticket:   100000,
	}
}

func (s *Sim) fail(code int, msg string) {
	s.lastErr = model.Diagnostic{Code: code, Message: msg}
}

func (s *Sim) succeed() {
	s.lastErr = model.Diagnostic{Code: model.DiagOK, Message: "Success"}
}

// requireSession must be called with mu held.
func (s *Sim) requireSession() bool {
	if !s.connected {
		s.fail(model.DiagNoIPCConnection, "No IPC connection")
		return false
	}
	return true
}

func (s *Sim) Init(_ context.Context, creds Credentials) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Password != "" && creds.Password != s.cfg.Password {
		s.connected = false
		s.fail(model.DiagAuthFailed, "Terminal: Authorization failed")
		return false, nil
	}
	s.connected = true
	s.succeed()
	return true, nil
}

func (s *Sim) Shutdown(context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.selected = make(map[string]bool)
	s.mu.Unlock()
	return nil
}

func (s *Sim) AccountInfo(context.Context) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireSession() {
		return nil, nil
	}
	s.succeed()
	return model.Record{
		"login":         json.Number(strconv.FormatInt(s.cfg.Login, 10)),
		"server":        s.cfg.Server,
		"currency":      "USD",
		"leverage":      json.Number("100"),
		"balance":       s.cfg.Balance,
		"equity":        s.cfg.Balance,
		"margin":        0.0,
		"margin_free":   s.cfg.Balance,
		"trade_allowed": true,
		"trade_mode":    json.Number("0"),
		"name":          "Simulated Account",
		"company":       "Simulated Broker",
	}, nil
}

func (s *Sim) SymbolSelect(_ context.Context, symbol string, enable bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireSession() {
		return false, nil
	}
	if _, ok := s.symbols[symbol]; !ok {
		s.fail(model.DiagFail, "Terminal: Call failed")
		return false, nil
	}
	if enable {
		s.selected[symbol] = true
	} else {
		delete(s.selected, symbol)
	}
	s.succeed()
	return true, nil
}

func (s *Sim) SymbolInfo(_ context.Context, symbol string) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireSession() {
		return nil, nil
	}
	sym, ok := s.symbols[symbol]
	if !ok {
		s.fail(model.DiagNotFound, "Terminal: Not found")
		return nil, nil
	}
	s.succeed()
	bid, ask := s.quote(sym, s.cfg.Now())
	return model.Record{
		"name":         sym.Name,
		"visible":      s.selected[symbol],
		"select":       s.selected[symbol],
		"digits":       json.Number(strconv.Itoa(sym.Digits)),
		"point":        math.Pow10(-sym.Digits),
		"spread":       json.Number(strconv.FormatInt(sym.Spread, 10)),
		"bid":          bid,
		"ask":          ask,
		"volume_min":   0.01,
		"volume_max":   100.0,
		"volume_step":  0.01,
		"trade_mode":   json.Number("4"),
		"filling_mode": json.Number("1"),
	}, nil
}

// selectedSymbol must be called with mu held.
func (s *Sim) selectedSymbol(symbol string) (SimSymbol, bool) {
	sym, ok := s.symbols[symbol]
	if !ok || !s.selected[symbol] {
		s.fail(model.DiagNotFound, "Terminal: Not found")
		return SimSymbol{}, false
	}
	return sym, true
}

func (s *Sim) RatesFromPos(_ context.Context, symbol string, tf model.Timeframe, start, count int) ([]model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireSession() {
		return nil, nil
	}
	sym, ok := s.selectedSymbol(symbol)
	if !ok {
		return nil, nil
	}
	if count <= 0 || start < 0 || count > maxSimBars {
		s.fail(model.DiagInvalidParams, "Terminal: Invalid params")
		return nil, nil
	}
	period := int64(tf.Period() / time.Second)
	current := s.cfg.Now().Unix() / period * period
	last := current - int64(start)*period

	bars := make([]model.Bar, 0, count)
	for t := last - int64(count-1)*period; t <= last; t += period {
		bars = append(bars, s.bar(sym, t, period))
	}
	s.succeed()
	return bars, nil
}

func (s *Sim) RatesRange(_ context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireSession() {
		return nil, nil
	}
	sym, ok := s.selectedSymbol(symbol)
	if !ok {
		return nil, nil
	}
	period := int64(tf.Period() / time.Second)
	first := (from.Unix() + period - 1) / period * period
	end := to.Unix()
	if now := s.cfg.Now().Unix(); end > now+1 {
		end = now + 1
	}
	if (end-first+period-1)/period > maxSimBars {
		s.fail(model.DiagInvalidParams, "Terminal: Invalid params")
		return nil, nil
	}

	var bars []model.Bar
	for t := first; t < end; t += period {
		bars = append(bars, s.bar(sym, t, period))
	}
	// No data and "no bars in range" look the same to the caller.
	if len(bars) == 0 {
		s.succeed()
		return nil, nil
	}
	s.succeed()
	return bars, nil
}

func (s *Sim) Tick(_ context.Context, symbol string) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireSession() {
		return nil, nil
	}
	sym, ok := s.selectedSymbol(symbol)
	if !ok {
		return nil, nil
	}
	now := s.cfg.Now()
	bid, ask := s.quote(sym, now)
	s.succeed()
	return model.Record{
		"time":        json.Number(strconv.FormatInt(now.Unix(), 10)),
		"bid":         bid,
		"ask":         ask,
		"last":        0.0,
		"volume":      json.Number("0"),
		"time_msc":    json.Number(strconv.FormatInt(now.UnixMilli(), 10)),
		"flags":       json.Number("6"),
		"volume_real": 0.0,
	}, nil
}

func (s *Sim) OrderSend(_ context.Context, req model.TradeRequest) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireSession() {
		return nil, nil
	}
	sym, ok := s.symbols[req.Symbol]
	if !ok || req.Action != model.TradeActionDeal {
		s.fail(model.DiagInvalidParams, "Invalid \"request\" argument")
		return nil, nil
	}
	s.succeed()

	bid, ask := s.quote(sym, s.cfg.Now())
	result := model.Record{
		"retcode":          json.Number(strconv.Itoa(model.RetcodeDone)),
		"deal":             json.Number("0"),
		"order":            json.Number("0"),
		"volume":           req.Volume,
		"price":            0.0,
		"bid":              bid,
		"ask":              ask,
		"comment":          "Request executed",
		"request_id":       json.Number("0"),
		"retcode_external": json.Number("0"),
	}
	// A rejected request still produces a result object; only its retcode says so.
	if req.Volume <= 0 {
		result["retcode"] = json.Number(strconv.Itoa(model.RetcodeInvalidVol))
		result["comment"] = "Invalid volume"
		return result, nil
	}

	s.ticket++
	price := ask
	if req.Type == model.OrderTypeSell {
		price = bid
	}
	result["order"] = json.Number(strconv.FormatInt(s.ticket, 10))
	result["deal"] = json.Number(strconv.FormatInt(s.ticket+500000, 10))
	result["price"] = price
	result["request_id"] = json.Number(strconv.FormatInt(s.ticket%1000, 10))
	return result, nil
}

func (s *Sim) LastError(context.Context) (model.Diagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr, nil
}

// Symbols returns the simulated symbol names, sorted.
func (s *Sim) Symbols() []string {
	names := make([]string, 0, len(s.symbols))
	for n := range s.symbols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Sim) mid(sym SimSymbol, unix float64) float64 {
	// Two incommensurate waves: a daily swing and an hourly ripple.
	return sym.Base * (1 + 0.004*math.Sin(unix/86400*2*math.Pi) + 0.0008*math.Sin(unix/3600*2*math.Pi))
}

func (s *Sim) quote(sym SimSymbol, t time.Time) (bid, ask float64) {
	point := math.Pow10(-sym.Digits)
	bid = round(s.mid(sym, float64(t.Unix())), sym.Digits)
	ask = round(bid+float64(sym.Spread)*point, sym.Digits)
	return bid, ask
}

func (s *Sim) bar(sym SimSymbol, t, period int64) model.Bar {
	open := s.mid(sym, float64(t))
	closeP := s.mid(sym, float64(t+period))
	high, low := math.Max(open, closeP), math.Min(open, closeP)
	// Probe inside the bar so highs and lows extend past open/close.
	for _, f := range []float64{0.25, 0.5, 0.75} {
		p := s.mid(sym, float64(t)+f*float64(period))
		high = math.Max(high, p)
		low = math.Min(low, p)
	}
	return model.Bar{
		Time:       t,
		Open:       round(open, sym.Digits),
		High:       round(high, sym.Digits),
		Low:        round(low, sym.Digits),
		Close:      round(closeP, sym.Digits),
		TickVolume: 20 + (t/period)%180,
		Spread:     sym.Spread,
		RealVolume: 0,
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
