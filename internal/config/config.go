package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// Config is the process configuration of the live bot and the data tools,
// assembled from environment variables (optionally loaded from a .env file).
type Config struct {
	// Bridge endpoints
	BridgeRequestURL string
	BridgeStreamURL  string
	BridgeTimeout    time.Duration

	// Market data
	CachePath  string
	Symbols    []string
	Timeframes []types.Timeframe
	RingSize   int

	// Playbooks
	PlaybookDir string

	// Ops
	MonitorAddr string
	LogLevel    string
	LogJSON     bool

	// Bybit downloader (public market data; keys optional)
	BybitAPIKey    string
	BybitAPISecret string
	BybitCategory  string
	BybitTestnet   bool
}

// Load reads configuration from the environment. A .env file at envFile is
// loaded first when present; system environment wins over file values.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		BridgeRequestURL: getEnv("BRIDGE_REQUEST_URL", "ws://127.0.0.1:5555"),
		BridgeStreamURL:  getEnv("BRIDGE_STREAM_URL", "ws://127.0.0.1:5556"),
		BridgeTimeout:    getEnvDuration("BRIDGE_TIMEOUT", 5*time.Second),

		CachePath:   getEnv("CACHE_PATH", "bars.db"),
		Symbols:     getEnvList("SYMBOLS", nil),
		RingSize:    getEnvInt("RING_SIZE", 200),
		PlaybookDir: getEnv("PLAYBOOK_DIR", "playbooks"),

		MonitorAddr: getEnv("MONITOR_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     getEnvBool("LOG_JSON", false),

		BybitAPIKey:    os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret: os.Getenv("BYBIT_API_SECRET"),
		BybitCategory:  getEnv("BYBIT_CATEGORY", "linear"),
		BybitTestnet:   getEnvBool("BYBIT_TESTNET", false),
	}

	for _, raw := range getEnvList("TIMEFRAMES", []string{"M15", "H4"}) {
		tf, err := types.ParseTimeframe(raw)
		if err != nil {
			return nil, fmt.Errorf("config: TIMEFRAMES: %w", err)
		}
		cfg.Timeframes = append(cfg.Timeframes, tf)
	}
	return cfg, nil
}

// ValidateLive checks the fields the live bot cannot run without.
func (c *Config) ValidateLive() error {
	var missing []string
	if c.BridgeRequestURL == "" {
		missing = append(missing, "BRIDGE_REQUEST_URL")
	}
	if c.BridgeStreamURL == "" {
		missing = append(missing, "BRIDGE_STREAM_URL")
	}
	if len(c.Symbols) == 0 {
		missing = append(missing, "SYMBOLS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.RingSize < 10 {
		return fmt.Errorf("config: RING_SIZE %d too small, need at least 10", c.RingSize)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
