package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mt5-gateway/internal/logger"
	"mt5-gateway/internal/model"
)

// Error kinds returned in the "error" field of failure bodies.
const (
	KindBadRequest            = "bad_request"
	KindBadTimeframe          = "bad_timeframe"
	KindInvalidTimeRange      = "invalid_time_range"
	KindSymbolSelectFailed    = "symbol_select_failed"
	KindSymbolInfoUnavailable = "symbol_info_unavailable"
	KindAccountUnavailable    = "account_unavailable"
	KindFetchFailed           = "fetch_failed"
	KindTickUnavailable       = "tick_unavailable"
	KindOrderSendFailed       = "order_send_failed"
	KindTerminalInitFailed    = "terminal_init_failed"
	KindTerminalUnreachable   = "terminal_unreachable"
	KindJournalDisabled       = "journal_disabled"
	KindNotFound              = "not_found"
	KindMethodNotAllowed      = "method_not_allowed"
)

// maxBodyBytes bounds request bodies; every payload here is a handful of fields.
const maxBodyBytes = 1 << 20

// fields are the request parameters echoed back in a failure body.
type fields map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail writes a failure body that does not involve the terminal.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, status int, kind string, echo fields) {
	body := map[string]any{"error": kind}
	for k, v := range echo {
		body[k] = v
	}
	h.metrics.Failure(kind)
	h.log.Info("[gateway] request failed",
		append(logger.LogWithTrace(r.Context()), "kind", kind, "status", status)...)
	writeJSON(w, status, body)
}

// badRequest is a validation failure; the terminal is never consulted.
func (h *Handlers) badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	h.fail(w, r, http.StatusBadRequest, KindBadRequest, fields{"detail": fmt.Sprintf(format, args...)})
}

// refuse reports a terminal refusal or absent result together with the
// terminal's last diagnostic.
func (h *Handlers) refuse(w http.ResponseWriter, r *http.Request, status int, kind string, echo fields) {
	diag, err := h.term.LastError(r.Context())
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	h.refuseWith(w, r, status, kind, diag, echo)
}

func (h *Handlers) refuseWith(w http.ResponseWriter, r *http.Request, status int, kind string, diag model.Diagnostic, echo fields) {
	if echo == nil {
		echo = fields{}
	}
	echo["last_error"] = diag
	h.fail(w, r, status, kind, echo)
}

// unreachable reports a transport failure between gateway and terminal.
func (h *Handlers) unreachable(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Warn("[gateway] terminal unreachable",
		append(logger.LogWithTrace(r.Context()), "error", err)...)
	h.fail(w, r, http.StatusBadGateway, KindTerminalUnreachable, fields{"detail": err.Error()})
}

// decodeBody reads the request body as a JSON object regardless of the
// Content-Type header. An empty body is an empty object. Numbers are kept as
// json.Number so integer fields can be validated exactly.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request) (params, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.badRequest(w, r, "read body: %v", err)
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return params{}, true
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p params
	if err := dec.Decode(&p); err != nil {
		h.badRequest(w, r, "body must be a JSON object: %v", err)
		return nil, false
	}
	if p == nil {
		p = params{}
	}
	return p, true
}
