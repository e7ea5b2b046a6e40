// Package config loads runtime configuration from environment variables,
// with a best-effort .env file load for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the matchmaking services. Every
// field maps to an environment variable; unset variables fall back to the
// documented defaults.
type Config struct {
	RedisAddr   string // REDIS_ADDR, default localhost:6379
	NATSURL     string // NATS_URL, default nats://localhost:4222
	DatabaseURL string // DATABASE_URL, postgres DSN
	ListenAddr  string // LISTEN_ADDR, metrics/health endpoint

	MatchBudget   time.Duration // MATCH_BUDGET, total search wall-clock budget
	MatchInterval time.Duration // MATCH_INTERVAL, poll loop tick
	VerifyBudget  time.Duration // VERIFY_POLL_BUDGET, drift-correction poll budget
	SweepInterval time.Duration // SWEEP_INTERVAL, daemon sweeper tick
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; a missing file is not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		RedisAddr:   getString("REDIS_ADDR", "localhost:6379"),
		NATSURL:     getString("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: getString("DATABASE_URL", "postgres://localhost:5432/studybuddy?sslmode=disable"),
		ListenAddr:  getString("LISTEN_ADDR", ":9090"),

		MatchBudget:   getDuration("MATCH_BUDGET", 20*time.Second),
		MatchInterval: getDuration("MATCH_INTERVAL", 2*time.Second),
		VerifyBudget:  getDuration("VERIFY_POLL_BUDGET", 15*time.Second),
		SweepInterval: getDuration("SWEEP_INTERVAL", 5*time.Second),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
