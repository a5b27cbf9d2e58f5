package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", "")
	t.Setenv("ENABLED_TIMEFRAMES", "")
	t.Setenv("DEFAULT_RATES_COUNT", "")
	t.Setenv("LAZY_CONNECT", "")

	cfg := Load()
	if cfg.ListenAddr != "127.0.0.1:5005" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.EnabledTimeframes != DefaultTimeframes {
		t.Errorf("expected default timeframes, got %q", cfg.EnabledTimeframes)
	}
	if cfg.DefaultCount != 300 {
		t.Errorf("expected default count 300, got %d", cfg.DefaultCount)
	}
	if cfg.OrderDeviation != 20 {
		t.Errorf("expected default deviation 20, got %d", cfg.OrderDeviation)
	}
	if !cfg.LazyConnect {
		t.Error("expected lazy connect enabled by default")
	}
	if cfg.CallTimeout != 0 {
		t.Errorf("expected no call timeout by default, got %v", cfg.CallTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":7000")
	t.Setenv("DEFAULT_RATES_COUNT", "50")
	t.Setenv("LAZY_CONNECT", "false")
	t.Setenv("TERMINAL_CALL_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.ListenAddr != ":7000" {
		t.Errorf("expected :7000, got %q", cfg.ListenAddr)
	}
	if cfg.DefaultCount != 50 {
		t.Errorf("expected 50, got %d", cfg.DefaultCount)
	}
	if cfg.LazyConnect {
		t.Error("expected lazy connect disabled")
	}
	if cfg.CallTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.CallTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
}

func TestLoad_InvalidNumberFallsBack(t *testing.T) {
	t.Setenv("DEFAULT_RATES_COUNT", "lots")
	cfg := Load()
	if cfg.DefaultCount != 300 {
		t.Errorf("expected fallback 300, got %d", cfg.DefaultCount)
	}
}

func TestParseTimeframes(t *testing.T) {
	cfg := &Config{EnabledTimeframes: " m1, H1 ,,h1,D1 "}
	got := cfg.ParseTimeframes()
	want := []string{"M1", "H1", "D1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
