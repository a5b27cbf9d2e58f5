// Package session owns the terminal session lifecycle for the gateway:
// explicit connect, lazy ensure before capability calls, and shutdown.
package session

import (
	"context"
	"log/slog"
	"sync"

	"mt5-gateway/internal/events"
	"mt5-gateway/internal/logger"
	"mt5-gateway/internal/model"
	"mt5-gateway/internal/terminal"
)

// Options configures a Manager. Zero values are usable.
type Options struct {
	Credentials terminal.Credentials
	Events      events.Publisher

	// OnStateChange is called whenever the observed session state flips.
	OnStateChange func(connected bool)

	Logger *slog.Logger
}

// ConnectResult is the outcome of Connect when the terminal was reachable.
type ConnectResult struct {
	Connected  bool
	Account    model.Record     // may be nil even when Connected
	Diagnostic model.Diagnostic // set when !Connected
}

// Manager holds the injected terminal handle and the last observed session
// state. It does not serialize terminal calls.
type Manager struct {
	term  terminal.Terminal
	creds terminal.Credentials
	pub   events.Publisher
	onSet func(bool)
	log   *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// New creates a session manager for term.
func New(term terminal.Terminal, opts Options) *Manager {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Manager{
		term:  term,
		creds: opts.Credentials,
		pub:   opts.Events,
		onSet: opts.OnStateChange,
		log:   lg.With(slog.String("component", "session")),
	}
}

// Terminal returns the managed terminal handle.
func (m *Manager) Terminal() terminal.Terminal { return m.term }

// Connected reports the session state as last observed by Connect, Ensure or Shutdown.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Manager) setConnected(up bool) {
	m.mu.Lock()
	changed := m.connected != up
	m.connected = up
	m.mu.Unlock()
	if changed && m.onSet != nil {
		m.onSet(up)
	}
}

// Connect opens the session and reads the account snapshot. An error means
// the terminal could not be reached at all.
func (m *Manager) Connect(ctx context.Context) (ConnectResult, error) {
	ok, diag, err := m.initialize(ctx)
	if err != nil {
		return ConnectResult{}, err
	}
	if !ok {
		m.log.Warn("[session] initialize refused", append(logger.LogWithTrace(ctx), "last_error", diag.String())...)
		m.pub.PublishSession(ctx, false)
		return ConnectResult{Diagnostic: diag}, nil
	}

	acc, err := m.term.AccountInfo(ctx)
	if err != nil {
		return ConnectResult{}, err
	}
	m.log.Info("[session] connected", append(logger.LogWithTrace(ctx), "account", acc != nil)...)
	m.pub.PublishSession(ctx, true)
	return ConnectResult{Connected: true, Account: acc}, nil
}

// Ensure makes sure a session is open before a capability call. The terminal
// treats initialize on an open session as a no-op, so it is always sent.
func (m *Manager) Ensure(ctx context.Context) (bool, model.Diagnostic, error) {
	return m.initialize(ctx)
}

func (m *Manager) initialize(ctx context.Context) (bool, model.Diagnostic, error) {
	ok, err := m.term.Init(ctx, m.creds)
	if err != nil {
		return false, model.Diagnostic{}, err
	}
	if ok {
		m.setConnected(true)
		return true, model.Diagnostic{}, nil
	}
	m.setConnected(false)
	diag, err := m.term.LastError(ctx)
	if err != nil {
		return false, model.Diagnostic{}, err
	}
	return false, diag, nil
}

// Shutdown releases the session. Errors are logged and swallowed so callers
// can treat shutdown as fire-and-forget.
func (m *Manager) Shutdown(ctx context.Context) {
	if err := m.term.Shutdown(ctx); err != nil {
		m.log.Warn("[session] shutdown failed", append(logger.LogWithTrace(ctx), "error", err)...)
	}
	m.setConnected(false)
	m.pub.PublishSession(ctx, false)
}
