// Package events fans gateway session and order events out over Redis pub/sub.
// Publishing is best-effort: failures are counted and logged, never returned
// to the HTTP caller.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"mt5-gateway/internal/model"
)

// Channel names.
const (
	SessionChannel     = "pub:session"
	OrderChannelPrefix = "pub:order:"
)

// Publish outcomes reported to a Recorder.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeDropped = "dropped"
)

// OrderChannel returns the channel for orders on symbol.
func OrderChannel(symbol string) string {
	return OrderChannelPrefix + strings.ToUpper(symbol)
}

// SessionEvent is published when the terminal session is opened or closed.
type SessionEvent struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	TS        int64  `json:"ts"` // unix ms
}

// OrderEvent is published after a successful order submission.
type OrderEvent struct {
	Type    string             `json:"type"`
	Symbol  string             `json:"symbol"`
	Request model.TradeRequest `json:"request"`
	Result  model.Record       `json:"result"`
	TS      int64              `json:"ts"`
}

// Publisher is the event sink used by the gateway.
type Publisher interface {
	PublishSession(ctx context.Context, connected bool)
	PublishOrder(ctx context.Context, req model.TradeRequest, result model.Record)
}

// Nop discards all events.
type Nop struct{}

func (Nop) PublishSession(context.Context, bool)                           {}
func (Nop) PublishOrder(context.Context, model.TradeRequest, model.Record) {}

// Recorder receives publish outcomes and breaker transitions.
type Recorder interface {
	EventPublished(outcome string)
	BreakerStateChanged(state int, tripped bool)
}

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	Timeout     time.Duration // per publish; default 500ms
	MaxFailures int           // breaker threshold; default 5
	Cooldown    time.Duration // breaker open period; default 10s
	Recorder    Recorder
	Logger      *slog.Logger
}

// Redis publishes events with PUBLISH behind a circuit breaker.
type Redis struct {
	client  *goredis.Client
	breaker *Breaker
	timeout time.Duration
	rec     Recorder
	log     *slog.Logger
	now     func() time.Time
}

// NewRedis creates a publisher. It does not require Redis to be up: a dead
// server only trips the breaker.
func NewRedis(cfg Config) *Redis {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  -1,
		DialTimeout: cfg.Timeout,
	})

	p := &Redis{
		client:  client,
		breaker: NewBreaker(cfg.MaxFailures, cfg.Cooldown),
		timeout: cfg.Timeout,
		rec:     cfg.Recorder,
		log:     lg.With(slog.String("component", "events")),
		now:     time.Now,
	}
	p.breaker.OnStateChange = func(from, to State) {
		p.log.Warn("[events] circuit breaker transition", "from", from.String(), "to", to.String())
		if p.rec != nil {
			p.rec.BreakerStateChanged(int(to), to == StateOpen)
		}
	}
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Redis) Client() *goredis.Client { return p.client }

// Ping checks Redis is reachable.
func (p *Redis) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (p *Redis) Close() error {
	return p.client.Close()
}

func (p *Redis) PublishSession(ctx context.Context, connected bool) {
	p.publish(ctx, SessionChannel, SessionEvent{
		Type:      "session",
		Connected: connected,
		TS:        p.now().UnixMilli(),
	})
}

func (p *Redis) PublishOrder(ctx context.Context, req model.TradeRequest, result model.Record) {
	p.publish(ctx, OrderChannel(req.Symbol), OrderEvent{
		Type:    "order",
		Symbol:  req.Symbol,
		Request: req,
		Result:  result,
		TS:      p.now().UnixMilli(),
	})
}

func (p *Redis) publish(ctx context.Context, channel string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("[events] encode failed", "channel", channel, "error", err)
		p.record(OutcomeError)
		return
	}

	// The event outlives the HTTP request that caused it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.breaker.Execute(func() error {
		if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", channel, err)
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrCircuitOpen):
		p.record(OutcomeDropped)
	case err != nil:
		p.log.Warn("[events] publish failed", "channel", channel, "error", err)
		p.record(OutcomeError)
	default:
		p.record(OutcomeOK)
	}
}

func (p *Redis) record(outcome string) {
	if p.rec != nil {
		p.rec.EventPublished(outcome)
	}
}
