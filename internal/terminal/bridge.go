package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"mt5-gateway/internal/model"
)

// BridgeConfig configures the websocket bridge client.
type BridgeConfig struct {
	URL         string        // e.g. ws://127.0.0.1:5006/bridge
	TOTPSecret  string        // optional; sends X-Bridge-OTP on dial
	CallTimeout time.Duration // 0 = no timeout beyond the caller's context
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
}

// Bridge talks to the terminal-side bridge process over a single websocket.
// Concurrent calls are multiplexed by request id; the socket is dialed on the
// first call and re-dialed on the next call after it drops. Calls are never
// retried.
type Bridge struct {
	cfg BridgeConfig
	log *slog.Logger

	mu      sync.Mutex // guards conn, pending, nextID
	conn    *websocket.Conn
	pending map[uint64]chan rpcResult
	nextID  uint64

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// NewBridge creates a bridge client. No connection is made until the first call.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		log:     lg.With(slog.String("component", "bridge")),
		pending: make(map[uint64]chan rpcResult),
	}
}

// Connected reports whether a bridge socket is currently open.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Close drops the bridge socket and fails all calls in flight.
func (b *Bridge) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	b.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()
	b.drop(conn, ErrClosed)
	return conn.Close()
}

func (b *Bridge) connect(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	if b.cfg.URL == "" {
		return nil, ErrNotConnected
	}

	header := http.Header{}
	if b.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(b.cfg.TOTPSecret, time.Now())
		if err != nil {
			return nil, fmt.Errorf("bridge otp: %w", err)
		}
		header.Set(OTPHeader, code)
	}

	conn, resp, err := b.cfg.Dialer.DialContext(ctx, b.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge dial %s: %s: %w", b.cfg.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("bridge dial %s: %w", b.cfg.URL, err)
	}
	b.log.Info("[bridge] connected", "url", b.cfg.URL)

	b.conn = conn
	go b.readLoop(conn)
	return conn, nil
}

// readLoop delivers responses to waiting callers until the socket fails.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				b.log.Warn("[bridge] read failed", "error", err)
			}
			b.drop(conn, fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			b.log.Warn("[bridge] undecodable frame", "error", err)
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if !ok {
			continue
		}
		if resp.Error != nil {
			ch <- rpcResult{err: resp.Error}
		} else {
			ch <- rpcResult{result: resp.Result}
		}
	}
}

// drop forgets conn (if still current) and fails every pending call.
func (b *Bridge) drop(conn *websocket.Conn, cause error) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	pending := b.pending
	b.pending = make(map[uint64]chan rpcResult)
	b.mu.Unlock()

	for _, ch := range pending {
		ch <- rpcResult{err: cause}
	}
}

// register adds ch as the waiter for a new request id. It fails when conn
// was dropped after connect returned it, since no response can arrive.
func (b *Bridge) register(conn *websocket.Conn, ch chan rpcResult) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != conn {
		return 0, ErrClosed
	}
	b.nextID++
	b.pending[b.nextID] = ch
	return b.nextID, nil
}

func (b *Bridge) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	conn, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if params != nil {
		if raw, err = json.Marshal(params); err != nil {
			return nil, fmt.Errorf("bridge %s: encode params: %w", method, err)
		}
	}

	ch := make(chan rpcResult, 1)
	id, err := b.register(conn, ch)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", method, err)
	}
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	frame, _ := json.Marshal(rpcRequest{ID: id, Method: method, Params: raw})

	b.writeMu.Lock()
	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, frame)
	b.writeMu.Unlock()
	if err != nil {
		b.drop(conn, fmt.Errorf("%w: %v", ErrClosed, err))
		conn.Close()
		return nil, fmt.Errorf("bridge %s: write: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("bridge %s: %w", method, res.err)
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("bridge %s: %w", method, ctx.Err())
	}
}

func (b *Bridge) callBool(ctx context.Context, method string, params any) (bool, error) {
	raw, err := b.call(ctx, method, params)
	if err != nil {
		return false, err
	}
	var ok bool
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ok); err != nil {
			return false, fmt.Errorf("bridge %s: decode: %w", method, err)
		}
	}
	return ok, nil
}

func (b *Bridge) callRecord(ctx context.Context, method string, params any) (model.Record, error) {
	raw, err := b.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	rec, err := model.DecodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: decode: %w", method, err)
	}
	return rec, nil
}

func (b *Bridge) callBars(ctx context.Context, method string, params any) ([]model.Bar, error) {
	raw, err := b.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var bars []model.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("bridge %s: decode: %w", method, err)
	}
	return bars, nil
}

// Init sends initialize with the given credentials.
func (b *Bridge) Init(ctx context.Context, creds Credentials) (bool, error) {
	return b.callBool(ctx, MethodInitialize, creds)
}

// Shutdown sends shutdown and closes the socket. Without an open socket it is a no-op.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if !b.Connected() {
		return nil
	}
	_, err := b.call(ctx, MethodShutdown, nil)
	if cerr := b.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *Bridge) AccountInfo(ctx context.Context) (model.Record, error) {
	return b.callRecord(ctx, MethodAccountInfo, nil)
}

func (b *Bridge) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	return b.callBool(ctx, MethodSymbolSelect, symbolParams{Symbol: symbol, Enable: &enable})
}

func (b *Bridge) SymbolInfo(ctx context.Context, symbol string) (model.Record, error) {
	return b.callRecord(ctx, MethodSymbolInfo, symbolParams{Symbol: symbol})
}

func (b *Bridge) RatesFromPos(ctx context.Context, symbol string, tf model.Timeframe, start, count int) ([]model.Bar, error) {
	return b.callBars(ctx, MethodRatesFromPos, ratesFromPosParams{
		Symbol: symbol, Timeframe: tf.Native, StartPos: start, Count: count,
	})
}

func (b *Bridge) RatesRange(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error) {
	return b.callBars(ctx, MethodRatesRange, ratesRangeParams{
		Symbol: symbol, Timeframe: tf.Native, DateFrom: from.Unix(), DateTo: to.Unix(),
	})
}

func (b *Bridge) Tick(ctx context.Context, symbol string) (model.Record, error) {
	return b.callRecord(ctx, MethodTick, symbolParams{Symbol: symbol})
}

func (b *Bridge) OrderSend(ctx context.Context, req model.TradeRequest) (model.Record, error) {
	return b.callRecord(ctx, MethodOrderSend, orderSendParams{Request: req})
}

func (b *Bridge) LastError(ctx context.Context) (model.Diagnostic, error) {
	raw, err := b.call(ctx, MethodLastError, nil)
	if err != nil {
		return model.Diagnostic{}, err
	}
	var d model.Diagnostic
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &d); err != nil {
			return model.Diagnostic{}, fmt.Errorf("bridge %s: decode: %w", MethodLastError, err)
		}
	}
	return d, nil
}
