// Package journal persists every order submission and its terminal outcome
// to SQLite for audit.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mt5-gateway/internal/model"
)

// MaxLimit caps a single listing.
const MaxLimit = 1000

// Journal is an append-only order log.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) a SQLite journal database.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT NOT NULL,
		type        INTEGER NOT NULL,
		volume      REAL NOT NULL,
		price       REAL NOT NULL,
		sl          REAL NOT NULL DEFAULT 0,
		tp          REAL NOT NULL DEFAULT 0,
		deviation   INTEGER NOT NULL DEFAULT 0,
		magic       INTEGER NOT NULL DEFAULT 0,
		comment     TEXT,
		ok          INTEGER NOT NULL,
		retcode     INTEGER,
		ticket      INTEGER,
		result      TEXT,
		diagnostic  TEXT,
		trace_id    TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	slog.Info("[journal] opened order journal", "path", dbPath)
	return &Journal{db: db}, nil
}

// Entry is one order submission as sent to the terminal.
type Entry struct {
	Request    model.TradeRequest
	Result     model.Record     // nil when the terminal returned no result
	Diagnostic model.Diagnostic // meaningful only when Result is nil
	TraceID    string
	At         time.Time
}

// Record persists e. The retcode and ticket are read from the result for
// querying; the result itself is stored verbatim.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	var (
		retcode, ticket sql.NullInt64
		result, diag    sql.NullString
	)
	if e.Result != nil {
		if v, ok := e.Result.Int64("retcode"); ok {
			retcode = sql.NullInt64{Int64: v, Valid: true}
		}
		if v, ok := e.Result.Int64("order"); ok {
			ticket = sql.NullInt64{Int64: v, Valid: true}
		}
		result = sql.NullString{String: string(e.Result.JSON()), Valid: true}
	} else {
		b, _ := json.Marshal(e.Diagnostic)
		diag = sql.NullString{String: string(b), Valid: true}
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	r := e.Request
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO orders (symbol, type, volume, price, sl, tp, deviation, magic, comment,
		                     ok, retcode, ticket, result, diagnostic, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Symbol, r.Type, r.Volume, r.Price, r.SL, r.TP, r.Deviation, r.Magic, r.Comment,
		e.Result != nil, retcode, ticket, result, diag, e.TraceID,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Row is one journal row as listed by GET /orders.
type Row struct {
	ID         int64             `json:"id"`
	Symbol     string            `json:"symbol"`
	Type       int               `json:"type"`
	Volume     float64           `json:"volume"`
	Price      float64           `json:"price"`
	SL         float64           `json:"sl"`
	TP         float64           `json:"tp"`
	Deviation  int               `json:"deviation"`
	Magic      int64             `json:"magic"`
	Comment    string            `json:"comment"`
	OK         bool              `json:"ok"`
	Retcode    *int64            `json:"retcode"`
	Ticket     *int64            `json:"order"`
	Result     json.RawMessage   `json:"result"`
	Diagnostic *model.Diagnostic `json:"last_error,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// List returns the last limit rows, newest first. limit is clamped to [1, MaxLimit].
func (j *Journal) List(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, type, volume, price, sl, tp, deviation, magic, comment,
		        ok, retcode, ticket, result, diagnostic, trace_id, created_at
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0, limit)
	for rows.Next() {
		var (
			r                          Row
			comment, result, diag, tid sql.NullString
			retcode, ticket            sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Type, &r.Volume, &r.Price, &r.SL, &r.TP,
			&r.Deviation, &r.Magic, &comment, &r.OK, &retcode, &ticket, &result, &diag,
			&tid, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		r.Comment = comment.String
		r.TraceID = tid.String
		if retcode.Valid {
			r.Retcode = &retcode.Int64
		}
		if ticket.Valid {
			r.Ticket = &ticket.Int64
		}
		if result.Valid {
			r.Result = json.RawMessage(result.String)
		} else {
			r.Result = json.RawMessage("null")
		}
		if diag.Valid {
			var d model.Diagnostic
			if err := json.Unmarshal([]byte(diag.String), &d); err == nil {
				r.Diagnostic = &d
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
