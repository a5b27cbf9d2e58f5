// Package gwclient is a typed client for the gateway's JSON API.
package gwclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"mt5-gateway/internal/journal"
	"mt5-gateway/internal/logger"
	"mt5-gateway/internal/model"
)

// DefaultBaseURL is the gateway's default listen address.
const DefaultBaseURL = "http://127.0.0.1:5005"

// APIError is a non-2xx gateway response.
type APIError struct {
	Path   string
	Status int
	Kind   string // the "error" field when it is a string

	// LastError is the terminal diagnostic carried by refusal bodies
	// (last_error, or error on a failed /connect).
	LastError *model.Diagnostic
	Detail    string
	Body      []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("gateway %s: %d %s", e.Path, e.Status, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.LastError != nil {
		msg += " last_error=" + e.LastError.String()
	}
	return msg
}

// Client calls one gateway instance.
type Client struct {
	http *resty.Client
}

// New creates a client for baseURL (DefaultBaseURL when empty). A zero
// timeout means no client-side timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if tid := logger.TraceID(ctx); tid != "" {
		req.SetHeader(logger.TraceHeader, tid)
	}
	return req
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if body == nil {
		body = map[string]any{}
	}
	resp, err := c.request(ctx).SetBody(body).Post(path)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	return decode(path, resp, out)
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	resp, err := c.request(ctx).SetQueryParams(query).Get(path)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	return decode(path, resp, out)
}

// decode keeps numbers as json.Number so tickets and logins stay exact.
func decode(path string, resp *resty.Response, out any) error {
	if resp.IsError() {
		return newAPIError(path, resp)
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("gateway %s: decode response: %w", path, err)
	}
	return nil
}

func newAPIError(path string, resp *resty.Response) *APIError {
	e := &APIError{Path: path, Status: resp.StatusCode(), Body: resp.Body()}
	var body struct {
		Error     json.RawMessage   `json:"error"`
		Detail    string            `json:"detail"`
		LastError *model.Diagnostic `json:"last_error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		e.Kind = "unknown"
		return e
	}
	e.Detail = body.Detail
	e.LastError = body.LastError
	if err := json.Unmarshal(body.Error, &e.Kind); err != nil {
		var diag model.Diagnostic
		if json.Unmarshal(body.Error, &diag) == nil {
			e.LastError = &diag
		}
	}
	return e
}

// Health reports whether the gateway process is up.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	return c.get(ctx, "/health", nil, &out)
}

// Connect opens the terminal session and returns the account snapshot,
// which may be nil. A refusal is an *APIError carrying the diagnostic.
func (c *Client) Connect(ctx context.Context) (model.Record, error) {
	var out struct {
		Connected bool         `json:"connected"`
		Account   model.Record `json:"account"`
	}
	if err := c.post(ctx, "/connect", nil, &out); err != nil {
		return nil, err
	}
	return out.Account, nil
}

// Shutdown releases the terminal session.
func (c *Client) Shutdown(ctx context.Context) error {
	var out map[string]any
	return c.post(ctx, "/shutdown", nil, &out)
}

func (c *Client) Account(ctx context.Context) (model.Record, error) {
	var out struct {
		Account model.Record `json:"account"`
	}
	if err := c.post(ctx, "/account", nil, &out); err != nil {
		return nil, err
	}
	return out.Account, nil
}

func (c *Client) SymbolInfo(ctx context.Context, symbol string) (model.Record, error) {
	var out model.Record
	if err := c.post(ctx, "/symbol_info", map[string]any{"symbol": symbol}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Rates returns the latest count bars. Empty tf or zero count use the
// gateway defaults.
func (c *Client) Rates(ctx context.Context, symbol, tf string, count int) ([]model.Bar, error) {
	body := map[string]any{"symbol": symbol}
	if tf != "" {
		body["timeframe"] = tf
	}
	if count > 0 {
		body["count"] = count
	}
	var out struct {
		Rates []model.Bar `json:"rates"`
	}
	if err := c.post(ctx, "/rates", body, &out); err != nil {
		return nil, err
	}
	return out.Rates, nil
}

// RatesRange returns the bars opened in [from, to).
func (c *Client) RatesRange(ctx context.Context, symbol, tf string, from, to time.Time) ([]model.Bar, error) {
	body := map[string]any{
		"symbol":    symbol,
		"timeframe": tf,
		"time_from": from.Unix(),
		"time_to":   to.Unix(),
	}
	var out struct {
		Rates []model.Bar `json:"rates"`
	}
	if err := c.post(ctx, "/rates_range", body, &out); err != nil {
		return nil, err
	}
	return out.Rates, nil
}

func (c *Client) Tick(ctx context.Context, symbol string) (model.Record, error) {
	var out struct {
		Tick model.Record `json:"tick"`
	}
	if err := c.post(ctx, "/tick", map[string]any{"symbol": symbol}, &out); err != nil {
		return nil, err
	}
	return out.Tick, nil
}

// Order submits a market deal. Zero deviation, magic and comment are left
// out so the gateway defaults apply. The result is returned whatever its
// retcode.
func (c *Client) Order(ctx context.Context, o model.OrderRequest) (model.Record, error) {
	body := map[string]any{
		"symbol": o.Symbol,
		"volume": o.Volume,
		"type":   o.Type,
		"price":  o.Price,
		"sl":     o.SL,
		"tp":     o.TP,
	}
	if o.Deviation != 0 {
		body["deviation"] = o.Deviation
	}
	if o.Magic != 0 {
		body["magic"] = o.Magic
	}
	if o.Comment != "" {
		body["comment"] = o.Comment
	}
	var out struct {
		Result model.Record `json:"result"`
	}
	if err := c.post(ctx, "/order", body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Orders lists journaled submissions, newest first.
func (c *Client) Orders(ctx context.Context, limit int) ([]journal.Row, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = fmt.Sprint(limit)
	}
	var out struct {
		Orders []journal.Row `json:"orders"`
	}
	if err := c.get(ctx, "/orders", query, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}
