// Package history downloads long bar histories through the gateway in
// range-limited chunks and stores them as JSON files, one per symbol and
// timeframe.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mt5-gateway/internal/gateway"
	"mt5-gateway/internal/model"
	"mt5-gateway/pkg/gwclient"
)

// ChunkDays is the range requested per call for each timeframe. Smaller
// timeframes use shorter chunks to stay under the terminal's per-request
// bar limit.
var ChunkDays = map[string]int{
	"M1":  7,
	"M5":  7,
	"M15": 30,
	"M30": 30,
	"H1":  90,
	"H4":  180,
	"D1":  365,
}

// DefaultTimeframes lists every timeframe in download order.
var DefaultTimeframes = []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1"}

// Fetcher is the part of the gateway client the downloader needs.
type Fetcher interface {
	RatesRange(ctx context.Context, symbol, tf string, from, to time.Time) ([]model.Bar, error)
}

// Options configures a Downloader.
type Options struct {
	OutDir        string        // default "data"
	Days          int           // default 730
	Retries       int           // attempts per chunk, default 3
	RetryInterval time.Duration // first backoff interval, default 800ms
	Pause         time.Duration // sleep between timeframes
	Now           func() time.Time
	Logger        *slog.Logger
}

// Result describes one written file.
type Result struct {
	Symbol    string
	Timeframe string
	Bars      int
	Path      string
}

// Downloader walks a window of history chunk by chunk.
type Downloader struct {
	f    Fetcher
	opts Options
	log  *slog.Logger
}

// New creates a downloader reading through f.
func New(f Fetcher, opts Options) *Downloader {
	if opts.OutDir == "" {
		opts.OutDir = "data"
	}
	if opts.Days <= 0 {
		opts.Days = 730
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 800 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Downloader{f: f, opts: opts, log: lg.With(slog.String("component", "history"))}
}

// Window is a half-open [From, To) request range.
type Window struct {
	From, To time.Time
}

// Windows splits [from, to) into consecutive windows of at most step.
func Windows(from, to time.Time, step time.Duration) []Window {
	var out []Window
	for t := from; t.Before(to); t = t.Add(step) {
		end := t.Add(step)
		if end.After(to) {
			end = to
		}
		out = append(out, Window{From: t, To: end})
	}
	return out
}

// Merge sorts bars by open time and drops repeated open times, keeping the
// first occurrence.
func Merge(bars []model.Bar) []model.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time == b.Time {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FileName is the output file for symbol and tf relative to the output dir.
func (d *Downloader) FileName(symbol, tf string) string {
	return filepath.Join(symbol, fmt.Sprintf("%s_%s_%dd.json", symbol, tf, d.opts.Days))
}

// Download fetches the last Days of symbol at tf and writes the merged bars.
// The window ends one minute before now so the forming bar is left out.
func (d *Downloader) Download(ctx context.Context, symbol, tf string) (Result, error) {
	chunk, ok := ChunkDays[tf]
	if !ok {
		return Result{}, fmt.Errorf("history: unknown timeframe %q", tf)
	}

	to := d.opts.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	from := to.AddDate(0, 0, -d.opts.Days)

	var all []model.Bar
	for _, w := range Windows(from, to, time.Duration(chunk)*24*time.Hour) {
		bars, err := d.fetch(ctx, symbol, tf, w)
		if err != nil {
			return Result{}, fmt.Errorf("history: %s %s %s..%s: %w", symbol, tf,
				w.From.Format(time.RFC3339), w.To.Format(time.RFC3339), err)
		}
		all = append(all, bars...)
	}
	all = Merge(all)
	if all == nil {
		all = []model.Bar{}
	}

	path := filepath.Join(d.opts.OutDir, d.FileName(symbol, tf))
	if err := writeJSON(path, all); err != nil {
		return Result{}, err
	}
	d.log.Info("[history] saved", "symbol", symbol, "tf", tf, "bars", len(all), "path", path)
	return Result{Symbol: symbol, Timeframe: tf, Bars: len(all), Path: path}, nil
}

// fetch retries one window with exponential backoff. Validation failures are
// not retried.
func (d *Downloader) fetch(ctx context.Context, symbol, tf string, w Window) ([]model.Bar, error) {
	var (
		bars    []model.Bar
		attempt int
	)
	op := func() error {
		attempt++
		d.log.Debug("[history] chunk", "symbol", symbol, "tf", tf,
			"from", w.From.Format(time.RFC3339), "to", w.To.Format(time.RFC3339), "try", attempt)

		var err error
		bars, err = d.f.RatesRange(ctx, symbol, tf, w.From, w.To)
		if err == nil {
			return nil
		}
		if emptyRange(err) {
			bars = nil
			return nil
		}
		d.log.Warn("[history] chunk error", "symbol", symbol, "tf", tf, "try", attempt, "error", err)
		if permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.opts.Retries-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return bars, nil
}

// permanent reports request errors that another attempt cannot fix.
func permanent(err error) bool {
	var apiErr *gwclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		return false
	}
	switch apiErr.Kind {
	case gateway.KindBadRequest, gateway.KindBadTimeframe,
		gateway.KindInvalidTimeRange, gateway.KindSymbolSelectFailed:
		return true
	}
	return false
}

// emptyRange reports a window the terminal holds no bars for (a weekend or a
// closed session): the fetch fails but the terminal's diagnostic is success.
func emptyRange(err error) bool {
	var apiErr *gwclient.APIError
	return errors.As(err, &apiErr) &&
		apiErr.Kind == gateway.KindFetchFailed &&
		apiErr.LastError != nil && apiErr.LastError.Code == model.DiagOK
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

// Run downloads every symbol and timeframe. A failed pair is logged and
// skipped; the joined errors are returned after all pairs were attempted.
func (d *Downloader) Run(ctx context.Context, symbols, timeframes []string) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, sym := range symbols {
		for i, tf := range timeframes {
			if i > 0 && d.opts.Pause > 0 {
				select {
				case <-ctx.Done():
					return results, ctx.Err()
				case <-time.After(d.opts.Pause):
				}
			}
			res, err := d.Download(ctx, sym, tf)
			if err != nil {
				if ctx.Err() != nil {
					return results, ctx.Err()
				}
				d.log.Error("[history] download failed", "symbol", sym, "tf", tf, "error", err)
				errs = append(errs, err)
				continue
			}
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}
