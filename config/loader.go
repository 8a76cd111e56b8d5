package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CIESIGN_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if envBool("CIESIGN_MOCK") {
		cfg.Mock = true
	}
	if v := os.Getenv("CIESIGN_SERVE"); v != "" {
		cfg.Serve = v
	}
	if v := os.Getenv("CIESIGN_IN"); v != "" {
		cfg.Input = v
	}
	if v := os.Getenv("CIESIGN_OUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("CIESIGN_PIN"); v != "" {
		cfg.PIN = v
	}

	// Appearance
	if v := os.Getenv("CIESIGN_REASON"); v != "" {
		cfg.Reason = v
	}
	if v := os.Getenv("CIESIGN_LOCATION"); v != "" {
		cfg.Location = v
	}
	if v := os.Getenv("CIESIGN_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("CIESIGN_IMAGE"); v != "" {
		cfg.ImagePath = v
	}
	if v := os.Getenv("CIESIGN_FIELDS"); v != "" {
		cfg.FieldIDs = ParseFieldIDs(v)
	}

	// Reader
	if v := envInt("CIESIGN_SESSION_TIMEOUT"); v > 0 {
		cfg.SessionTimeout = secondsDuration(v)
	}
	if v := envInt("CIESIGN_QUEUE"); v > 0 {
		cfg.QueueSize = v
	}
	if v := os.Getenv("CIESIGN_READER"); v != "" {
		cfg.ReaderStatus = strings.ToLower(v)
	}
	if v := os.Getenv("CIESIGN_SIMULATE_TAG"); v != "" {
		cfg.SimulateTag = strings.ToLower(v)
	}
	if v := envInt("CIESIGN_CARD_WAIT"); v > 0 {
		cfg.CardWait = secondsDuration(v)
	}

	// Output
	if v := envInt("CIESIGN_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
