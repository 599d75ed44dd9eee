/*
Package config loads runtime configuration.

PURPOSE:
  Environment-first configuration with sensible development defaults.
  A .env file is honored when present (local development); real
  deployments inject variables directly. Command-line flags in
  cmd/server override whatever the environment says.

VARIABLES:
  PORT              HTTP listen port            (default 8080)
  DB_PATH           SQLite database path        (default trade.db)
  LOG_LEVEL         zerolog level name          (default info)
  LOG_FORMAT        "console" or "json"         (default console)
  OUTBOX_INTERVAL   ledger posting drain period (default 5s)
*/
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	DBPath         string
	LogLevel       string
	LogFormat      string
	OutboxInterval time.Duration
}

// Load reads .env if present, then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           envInt("PORT", 8080),
		DBPath:         envString("DB_PATH", "trade.db"),
		LogLevel:       envString("LOG_LEVEL", "info"),
		LogFormat:      envString("LOG_FORMAT", "console"),
		OutboxInterval: envDuration("OUTBOX_INTERVAL", 5*time.Second),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
