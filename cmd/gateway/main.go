package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mt5-gateway/config"
	"mt5-gateway/internal/events"
	"mt5-gateway/internal/gateway"
	"mt5-gateway/internal/journal"
	"mt5-gateway/internal/logger"
	"mt5-gateway/internal/metrics"
	"mt5-gateway/internal/model"
	"mt5-gateway/internal/session"
	"mt5-gateway/internal/terminal"
)

func main() {
	cfg := config.Load()
	log := logger.Init("gateway", cfg.LogLevel)
	log.Info("[gateway] starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tfs, skipped := model.NewTimeframeSet(cfg.ParseTimeframes())
	if len(skipped) > 0 {
		log.Warn("[gateway] ignoring unknown timeframes", "tokens", skipped)
	}
	if tfs.Len() == 0 {
		log.Warn("[gateway] no usable timeframes, using defaults", "enabled", cfg.EnabledTimeframes)
		tfs, _ = model.NewTimeframeSet(strings.Split(config.DefaultTimeframes, ","))
	}
	log.Info("[gateway] timeframes enabled", "tfs", tfs.String())

	creds, err := credentials(cfg)
	if err != nil {
		log.Error("[gateway] invalid terminal credentials", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	health := metrics.NewHealth()
	probes := map[string]metrics.Probe{}

	bridge := terminal.NewBridge(terminal.BridgeConfig{
		URL:         cfg.BridgeURL,
		TOTPSecret:  cfg.TOTPSecret,
		CallTimeout: cfg.CallTimeout,
		Logger:      log,
	})
	defer bridge.Close()
	probes["terminal_bridge"] = func(context.Context) error {
		if !bridge.Connected() {
			return errors.New("bridge socket not open")
		}
		return nil
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.RedisAddr != "" {
		rp := events.NewRedis(events.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Recorder: m,
			Logger:   log,
		})
		defer rp.Close()
		publisher = rp
		probes["redis"] = rp.Ping
		log.Info("[gateway] publishing events", "redis", cfg.RedisAddr)
	}

	gwCfg := gateway.Config{
		Timeframes:       tfs,
		DefaultTimeframe: cfg.DefaultTimeframe,
		DefaultCount:     cfg.DefaultCount,
		OrderComment:     cfg.OrderComment,
		OrderDeviation:   cfg.OrderDeviation,
		LazyConnect:      cfg.LazyConnect,
		CORSAllowOrigin:  cfg.CORSAllowOrigin,
		Events:           publisher,
		Metrics:          m,
		Health:           health,
		Logger:           log,
	}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			log.Error("[gateway] journal open failed", "path", cfg.JournalPath, "error", err)
			os.Exit(1)
		}
		defer j.Close()
		gwCfg.Journal = j
		probes["journal"] = j.Ping
		log.Info("[gateway] order journal enabled", "path", cfg.JournalPath)
	}

	gwCfg.Session = session.New(terminal.Observe(bridge, m), session.Options{
		Credentials:   creds,
		Events:        publisher,
		OnStateChange: m.SetConnected,
		Logger:        log,
	})

	health.StartLivenessChecker(ctx, probes, 15*time.Second)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gateway.New(gwCfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("[gateway] serving", "addr", cfg.ListenAddr, "bridge", cfg.BridgeURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("[gateway] server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	log.Info("[gateway] shutting down...")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("[gateway] graceful shutdown incomplete", "error", err)
	}
}

func credentials(cfg *config.Config) (terminal.Credentials, error) {
	creds := terminal.Credentials{
		Password: cfg.TerminalPassword,
		Server:   cfg.TerminalServer,
		Path:     cfg.TerminalPath,
	}
	if cfg.TerminalLogin != "" {
		login, err := strconv.ParseInt(cfg.TerminalLogin, 10, 64)
		if err != nil {
			return creds, err
		}
		creds.Login = login
	}
	return creds, nil
}
