package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestNew_WritesServiceAndTrace(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "gateway", slog.LevelInfo)

	ctx := WithTraceID(context.Background(), "rates-1")
	log.Info("[gateway] request", LogWithTrace(ctx)...)
	log.Debug("hidden")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "gateway" {
		t.Errorf("service = %v", line["service"])
	}
	if line["trace_id"] != "rates-1" {
		t.Errorf("trace_id = %v", line["trace_id"])
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)

	cases := map[string]string{
		"/rates_range": "rates_range-",
		"/":            "root-",
		"/a/b":         "a_b-",
	}
	for route, prefix := range cases {
		tid := GenerateTraceID(route, ts)
		want := prefix + "1705314600123456789"
		if tid != want {
			t.Errorf("GenerateTraceID(%q) = %q, want %q", route, tid, want)
		}
	}
}

func TestLogWithTrace(t *testing.T) {
	if attrs := LogWithTrace(context.Background()); attrs != nil {
		t.Errorf("expected nil attrs when no trace id, got %v", attrs)
	}
	attrs := LogWithTrace(WithTraceID(context.Background(), "abc-123"))
	if len(attrs) != 1 {
		t.Fatalf("expected one attr, got %v", attrs)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
