package terminal

import (
	"encoding/json"

	"mt5-gateway/internal/model"
)

// Bridge method names.
const (
	MethodInitialize   = "initialize"
	MethodShutdown     = "shutdown"
	MethodAccountInfo  = "account_info"
	MethodSymbolSelect = "symbol_select"
	MethodSymbolInfo   = "symbol_info"
	MethodRatesFromPos = "copy_rates_from_pos"
	MethodRatesRange   = "copy_rates_range"
	MethodTick         = "symbol_info_tick"
	MethodOrderSend    = "order_send"
	MethodLastError    = "last_error"
)

// OTPHeader carries the bridge one-time password on dial.
const OTPHeader = "X-Bridge-OTP"

// Protocol error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type rpcRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

type symbolParams struct {
	Symbol string `json:"symbol"`
	Enable *bool  `json:"enable,omitempty"`
}

type ratesFromPosParams struct {
	Symbol    string `json:"symbol"`
	Timeframe int    `json:"timeframe"`
	StartPos  int    `json:"start_pos"`
	Count     int    `json:"count"`
}

type ratesRangeParams struct {
	Symbol    string `json:"symbol"`
	Timeframe int    `json:"timeframe"`
	DateFrom  int64  `json:"date_from"`
	DateTo    int64  `json:"date_to"`
}

type orderSendParams struct {
	Request model.TradeRequest `json:"request"`
}
