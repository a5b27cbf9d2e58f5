package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"mt5-gateway/internal/model"
)

// Server exposes a Terminal over the bridge websocket protocol. It is the
// counterpart of Bridge and backs the simulated terminal binary.
type Server struct {
	term       Terminal
	totpSecret string
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer wraps term. When totpSecret is non-empty every dial must carry a
// valid code in the X-Bridge-OTP header.
func NewServer(term Terminal, totpSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		term:       term,
		totpSecret: totpSecret,
		log:        logger.With(slog.String("component", "bridge_server")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and serves calls until the peer disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.totpSecret != "" && !totp.Validate(r.Header.Get(OTPHeader), s.totpSecret) {
		http.Error(w, "invalid bridge otp", http.StatusUnauthorized)
		s.log.Warn("[bridge] rejected dial: bad otp", "remote", r.RemoteAddr)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("[bridge] upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.log.Info("[bridge] client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.log.Info("[bridge] client disconnected", "remote", r.RemoteAddr)
			return
		}

		var req rpcRequest
		var resp rpcResponse
		if err := json.Unmarshal(msg, &req); err != nil {
			resp.Error = &RemoteError{Code: codeParseError, Message: err.Error()}
		} else {
			resp.ID = req.ID
			result, rerr := s.dispatch(ctx, req)
			if rerr != nil {
				resp.Error = rerr
			} else if resp.Result, err = json.Marshal(result); err != nil {
				resp.Error = &RemoteError{Code: codeInternal, Message: err.Error()}
			}
		}

		frame, _ := json.Marshal(resp)
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.log.Warn("[bridge] write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, *RemoteError) {
	decode := func(v any) *RemoteError {
		if len(req.Params) == 0 {
			return nil
		}
		if err := json.Unmarshal(req.Params, v); err != nil {
			return &RemoteError{Code: codeInvalidParams, Message: fmt.Sprintf("%s: %v", req.Method, err)}
		}
		return nil
	}
	internal := func(err error) *RemoteError {
		return &RemoteError{Code: codeInternal, Message: err.Error()}
	}

	switch req.Method {
	case MethodInitialize:
		var creds Credentials
		if rerr := decode(&creds); rerr != nil {
			return nil, rerr
		}
		ok, err := s.term.Init(ctx, creds)
		if err != nil {
			return nil, internal(err)
		}
		return ok, nil

	case MethodShutdown:
		if err := s.term.Shutdown(ctx); err != nil {
			return nil, internal(err)
		}
		return nil, nil

	case MethodAccountInfo:
		rec, err := s.term.AccountInfo(ctx)
		if err != nil {
			return nil, internal(err)
		}
		return rec, nil

	case MethodSymbolSelect:
		var p symbolParams
		if rerr := decode(&p); rerr != nil {
			return nil, rerr
		}
		enable := true
		if p.Enable != nil {
			enable = *p.Enable
		}
		ok, err := s.term.SymbolSelect(ctx, p.Symbol, enable)
		if err != nil {
			return nil, internal(err)
		}
		return ok, nil

	case MethodSymbolInfo, MethodTick:
		var p symbolParams
		if rerr := decode(&p); rerr != nil {
			return nil, rerr
		}
		call := s.term.SymbolInfo
		if req.Method == MethodTick {
			call = s.term.Tick
		}
		rec, err := call(ctx, p.Symbol)
		if err != nil {
			return nil, internal(err)
		}
		return rec, nil

	case MethodRatesFromPos:
		var p ratesFromPosParams
		if rerr := decode(&p); rerr != nil {
			return nil, rerr
		}
		tf, rerr := nativeTimeframe(p.Timeframe)
		if rerr != nil {
			return nil, rerr
		}
		bars, err := s.term.RatesFromPos(ctx, p.Symbol, tf, p.StartPos, p.Count)
		if err != nil {
			return nil, internal(err)
		}
		return bars, nil

	case MethodRatesRange:
		var p ratesRangeParams
		if rerr := decode(&p); rerr != nil {
			return nil, rerr
		}
		tf, rerr := nativeTimeframe(p.Timeframe)
		if rerr != nil {
			return nil, rerr
		}
		bars, err := s.term.RatesRange(ctx, p.Symbol, tf, time.Unix(p.DateFrom, 0).UTC(), time.Unix(p.DateTo, 0).UTC())
		if err != nil {
			return nil, internal(err)
		}
		return bars, nil

	case MethodOrderSend:
		var p orderSendParams
		if rerr := decode(&p); rerr != nil {
			return nil, rerr
		}
		rec, err := s.term.OrderSend(ctx, p.Request)
		if err != nil {
			return nil, internal(err)
		}
		return rec, nil

	case MethodLastError:
		d, err := s.term.LastError(ctx)
		if err != nil {
			return nil, internal(err)
		}
		return d, nil
	}

	return nil, &RemoteError{Code: codeMethodNotFound, Message: "unknown method " + req.Method}
}

func nativeTimeframe(native int) (model.Timeframe, *RemoteError) {
	tf, ok := model.TimeframeByNative(native)
	if !ok {
		return model.Timeframe{}, &RemoteError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown timeframe %d", native)}
	}
	return tf, nil
}
