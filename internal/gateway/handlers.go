package gateway

import (
	"net/http"
	"strconv"
	"time"

	"mt5-gateway/internal/journal"
	"mt5-gateway/internal/logger"
	"mt5-gateway/internal/model"
)

const defaultOrdersLimit = 50

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	res, err := h.sess.Connect(r.Context())
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	if !res.Connected {
		h.metrics.Failure(KindTerminalInitFailed)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"connected": false,
			"error":     res.Diagnostic,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"account":   res.Account,
	})
}

func (h *Handlers) handleShutdown(w http.ResponseWriter, r *http.Request) {
	h.sess.Shutdown(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ensure opens the session lazily. It runs after validation and before the
// first capability call.
func (h *Handlers) ensure(w http.ResponseWriter, r *http.Request) bool {
	if !h.cfg.LazyConnect {
		return true
	}
	ok, diag, err := h.sess.Ensure(r.Context())
	if err != nil {
		h.unreachable(w, r, err)
		return false
	}
	if !ok {
		h.refuseWith(w, r, http.StatusInternalServerError, KindTerminalInitFailed, diag, nil)
		return false
	}
	return true
}

func (h *Handlers) handleAccount(w http.ResponseWriter, r *http.Request) {
	if !h.ensure(w, r) {
		return
	}
	acc, err := h.term.AccountInfo(r.Context())
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	if acc == nil {
		h.refuse(w, r, http.StatusBadRequest, KindAccountUnavailable, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acc})
}

func (h *Handlers) handleSymbolInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	symbol, ok := h.symbol(w, r, p)
	if !ok || !h.ensure(w, r) {
		return
	}

	info, err := h.term.SymbolInfo(r.Context(), symbol)
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	if info == nil {
		h.refuse(w, r, http.StatusBadRequest, KindSymbolInfoUnavailable, fields{"symbol": symbol})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) handleRates(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	symbol, ok := h.symbol(w, r, p)
	if !ok {
		return
	}
	tf, ok := h.timeframe(w, r, p)
	if !ok {
		return
	}
	count := int64(h.cfg.DefaultCount)
	if n, present, err := p.Int("count"); err != nil {
		h.badRequest(w, r, "%v", err)
		return
	} else if present {
		count = n
	}
	if count <= 0 {
		h.badRequest(w, r, "count must be positive, got %d", count)
		return
	}
	if !h.ensure(w, r) || !h.selectSymbol(w, r, symbol) {
		return
	}

	bars, err := h.term.RatesFromPos(r.Context(), symbol, tf, 0, int(count))
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	if bars == nil {
		h.refuse(w, r, http.StatusBadRequest, KindFetchFailed, fields{
			"symbol": symbol, "tf": tf.Token, "count": count,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": bars})
}

func (h *Handlers) handleRatesRange(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	symbol, ok := h.symbol(w, r, p)
	if !ok {
		return
	}
	tf, ok := h.timeframe(w, r, p)
	if !ok {
		return
	}
	from, ok := h.unixField(w, r, p, "time_from")
	if !ok {
		return
	}
	to, ok := h.unixField(w, r, p, "time_to")
	if !ok {
		return
	}
	dtFrom := time.Unix(from, 0).UTC()
	dtTo := time.Unix(to, 0).UTC()
	if from >= to {
		h.fail(w, r, http.StatusBadRequest, KindInvalidTimeRange, fields{
			"time_from": from,
			"time_to":   to,
			"dt_from":   dtFrom.Format(time.RFC3339),
			"dt_to":     dtTo.Format(time.RFC3339),
		})
		return
	}
	if !h.ensure(w, r) || !h.selectSymbol(w, r, symbol) {
		return
	}

	ctx := r.Context()
	info, err := h.term.SymbolInfo(ctx, symbol)
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	if info == nil {
		h.refuse(w, r, http.StatusBadRequest, KindSymbolInfoUnavailable, fields{"symbol": symbol})
		return
	}

	bars, err := h.term.RatesRange(ctx, symbol, tf, dtFrom, dtTo)
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	if bars == nil {
		h.refuse(w, r, http.StatusBadRequest, KindFetchFailed, fields{
			"symbol":  symbol,
			"tf":      tf.Token,
			"dt_from": dtFrom.Format(time.RFC3339),
			"dt_to":   dtTo.Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": bars})
}

func (h *Handlers) handleTick(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	symbol, ok := h.symbol(w, r, p)
	if !ok || !h.ensure(w, r) || !h.selectSymbol(w, r, symbol) {
		return
	}

	tick, err := h.term.Tick(r.Context(), symbol)
	if err != nil {
		h.unreachable(w, r, err)
		return
	}
	if tick == nil {
		h.refuse(w, r, http.StatusBadRequest, KindTickUnavailable, fields{"symbol": symbol})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tick": tick})
}

func (h *Handlers) handleOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	order, ok := h.orderRequest(w, r, p)
	if !ok || !h.ensure(w, r) || !h.selectSymbol(w, r, order.Symbol) {
		return
	}

	ctx := r.Context()
	req := model.NewDealRequest(order)
	result, err := h.term.OrderSend(ctx, req)
	if err != nil {
		h.unreachable(w, r, err)
		return
	}

	entry := journal.Entry{Request: req, Result: result, TraceID: logger.TraceID(ctx), At: time.Now()}
	if result == nil {
		diag, err := h.term.LastError(ctx)
		if err != nil {
			h.unreachable(w, r, err)
			return
		}
		entry.Diagnostic = diag
		h.recordOrder(r, entry)
		h.refuseWith(w, r, http.StatusBadRequest, KindOrderSendFailed, diag, fields{"symbol": order.Symbol})
		return
	}

	// The result's retcode is relayed, not judged: a rejected order still
	// produces a result object and a 200.
	h.recordOrder(r, entry)
	h.events.PublishOrder(ctx, req, result)
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (h *Handlers) recordOrder(r *http.Request, e journal.Entry) {
	if h.journal == nil {
		return
	}
	err := h.journal.Record(r.Context(), e)
	h.metrics.JournalWrite(err)
	if err != nil {
		h.log.Error("[gateway] journal write failed", append(logger.LogWithTrace(r.Context()), "error", err)...)
	}
}

func (h *Handlers) handleOrders(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.fail(w, r, http.StatusNotFound, KindJournalDisabled, nil)
		return
	}
	limit := defaultOrdersLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.badRequest(w, r, "limit must be a positive integer, got %q", s)
			return
		}
		limit = n
	}
	if limit > journal.MaxLimit {
		limit = journal.MaxLimit
	}

	rows, err := h.journal.List(r.Context(), limit)
	if err != nil {
		h.log.Error("[gateway] journal read failed", append(logger.LogWithTrace(r.Context()), "error", err)...)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": rows})
}

// selectSymbol asks the terminal to make symbol visible.
func (h *Handlers) selectSymbol(w http.ResponseWriter, r *http.Request, symbol string) bool {
	ok, err := h.term.SymbolSelect(r.Context(), symbol, true)
	if err != nil {
		h.unreachable(w, r, err)
		return false
	}
	if !ok {
		h.refuse(w, r, http.StatusBadRequest, KindSymbolSelectFailed, fields{"symbol": symbol})
		return false
	}
	return true
}

func (h *Handlers) symbol(w http.ResponseWriter, r *http.Request, p params) (string, bool) {
	s, present, err := p.Text("symbol")
	if err != nil {
		h.badRequest(w, r, "%v", err)
		return "", false
	}
	if !present || s == "" {
		h.badRequest(w, r, "symbol is required")
		return "", false
	}
	return s, true
}

func (h *Handlers) timeframe(w http.ResponseWriter, r *http.Request, p params) (model.Timeframe, bool) {
	tok, present, err := p.Text("timeframe")
	if !present {
		tok = h.cfg.DefaultTimeframe
	}
	if err == nil {
		if tf, ok := h.tfs.Resolve(tok); ok {
			return tf, true
		}
	}
	echo := any(tok)
	if err != nil {
		echo = p.raw("timeframe")
	}
	h.fail(w, r, http.StatusBadRequest, KindBadTimeframe, fields{
		"tf":      echo,
		"allowed": h.tfs.Allowed(),
	})
	return model.Timeframe{}, false
}

// unixField reads a required Unix-seconds field.
func (h *Handlers) unixField(w http.ResponseWriter, r *http.Request, p params, key string) (int64, bool) {
	n, present, err := p.Int(key)
	if err != nil {
		h.badRequest(w, r, "%v", err)
		return 0, false
	}
	if !present {
		h.badRequest(w, r, "%s is required", key)
		return 0, false
	}
	return n, true
}

func (h *Handlers) orderRequest(w http.ResponseWriter, r *http.Request, p params) (model.OrderRequest, bool) {
	o := model.OrderRequest{
		Deviation: h.cfg.OrderDeviation,
		Comment:   h.cfg.OrderComment,
	}
	var ok bool
	if o.Symbol, ok = h.symbol(w, r, p); !ok {
		return o, false
	}

	for _, f := range []struct {
		key string
		dst *float64
	}{{"volume", &o.Volume}, {"price", &o.Price}} {
		v, present, err := p.Float(f.key)
		if err != nil {
			h.badRequest(w, r, "%v", err)
			return o, false
		}
		if !present {
			h.badRequest(w, r, "%s is required", f.key)
			return o, false
		}
		*f.dst = v
	}

	typ, present, err := p.Int("type")
	if err != nil {
		h.badRequest(w, r, "%v", err)
		return o, false
	}
	if !present {
		h.badRequest(w, r, "type is required")
		return o, false
	}
	o.Type = int(typ)

	for _, f := range []struct {
		key string
		dst *float64
	}{{"sl", &o.SL}, {"tp", &o.TP}} {
		v, present, err := p.Float(f.key)
		if err != nil {
			h.badRequest(w, r, "%v", err)
			return o, false
		}
		if present {
			*f.dst = v
		}
	}

	if v, present, err := p.Int("deviation"); err != nil {
		h.badRequest(w, r, "%v", err)
		return o, false
	} else if present {
		o.Deviation = int(v)
	}
	if v, present, err := p.Int("magic"); err != nil {
		h.badRequest(w, r, "%v", err)
		return o, false
	} else if present {
		o.Magic = v
	}
	if v, present, err := p.Text("comment"); err != nil {
		h.badRequest(w, r, "%v", err)
		return o, false
	} else if present {
		o.Comment = v
	}
	return o, true
}
