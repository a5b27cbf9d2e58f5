// cmd/termsim serves the terminal bridge protocol over a simulated terminal,
// so the gateway and the history downloader can run without a real terminal.
//
// Config (env vars):
//
//	TERMSIM_ADDR          listen address (default: "127.0.0.1:5006")
//	TERMSIM_PASSWORD      password initialize must present (default: none)
//	TERMINAL_TOTP_SECRET  require a valid X-Bridge-OTP code on dial
//	LOG_LEVEL             debug, info, warn or error (default: "info")
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"mt5-gateway/internal/logger"
	"mt5-gateway/internal/terminal"
)

func main() {
	_ = godotenv.Load()
	log := logger.Init("termsim", logger.ParseLevel(getEnv("LOG_LEVEL", "info")))

	addr := getEnv("TERMSIM_ADDR", "127.0.0.1:5006")
	sim := terminal.NewSim(terminal.SimConfig{Password: os.Getenv("TERMSIM_PASSWORD")})

	r := mux.NewRouter()
	r.Handle("/bridge", terminal.NewServer(sim, os.Getenv("TERMINAL_TOTP_SECRET"), log))
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("[termsim] serving bridge", "url", "ws://"+addr+"/bridge",
			"symbols", strings.Join(sim.Symbols(), ","))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("[termsim] server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	log.Info("[termsim] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
