package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mt5-gateway/internal/logger"
)

// DefaultTimeframes is the superset of timeframe tokens the gateway recognizes.
const DefaultTimeframes = "M1,M5,M15,M30,H1,H4,D1"

// Config holds all gateway configuration loaded from environment variables.
type Config struct {
	// HTTP
	ListenAddr      string
	CORSAllowOrigin string
	LogLevel        slog.Level

	// Request defaults
	EnabledTimeframes string
	DefaultTimeframe  string
	DefaultCount      int
	OrderComment      string
	OrderDeviation    int
	LazyConnect       bool

	// Terminal bridge
	BridgeURL        string
	TerminalLogin    string
	TerminalPassword string
	TerminalServer   string
	TerminalPath     string
	TOTPSecret       string
	CallTimeout      time.Duration

	// Optional infrastructure
	JournalPath   string
	RedisAddr     string
	RedisPassword string
}

// Load reads configuration from an optional .env file and the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("[config] could not read .env", "error", err)
	}

	return &Config{
		ListenAddr:      getEnv("GATEWAY_ADDR", "127.0.0.1:5005"),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
		LogLevel:        logger.ParseLevel(getEnv("LOG_LEVEL", "info")),

		EnabledTimeframes: getEnv("ENABLED_TIMEFRAMES", DefaultTimeframes),
		DefaultTimeframe:  strings.ToUpper(getEnv("DEFAULT_TIMEFRAME", "M1")),
		DefaultCount:      getEnvInt("DEFAULT_RATES_COUNT", 300),
		OrderComment:      getEnv("ORDER_DEFAULT_COMMENT", "js-bot"),
		OrderDeviation:    getEnvInt("ORDER_DEFAULT_DEVIATION", 20),
		LazyConnect:       getEnvBool("LAZY_CONNECT", true),

		BridgeURL:        getEnv("TERMINAL_BRIDGE_URL", "ws://127.0.0.1:5006/bridge"),
		TerminalLogin:    getEnv("TERMINAL_LOGIN", ""),
		TerminalPassword: getEnv("TERMINAL_PASSWORD", ""),
		TerminalServer:   getEnv("TERMINAL_SERVER", ""),
		TerminalPath:     getEnv("TERMINAL_PATH", ""),
		TOTPSecret:       getEnv("TERMINAL_TOTP_SECRET", ""),
		CallTimeout:      getEnvDuration("TERMINAL_CALL_TIMEOUT", 0),

		JournalPath:   getEnv("JOURNAL_PATH", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
	}
}

// ParseTimeframes splits EnabledTimeframes into upper-case tokens, dropping
// empty and duplicate entries. Validation against known timeframes happens in
// model.NewTimeframeSet.
func (c *Config) ParseTimeframes() []string {
	parts := strings.Split(c.EnabledTimeframes, ",")
	seen := make(map[string]bool, len(parts))
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		tokens = append(tokens, p)
	}
	return tokens
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("[config] invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("[config] invalid bool, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("[config] invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
