package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	// Supabase project
	SupabaseURL     string
	SupabaseAnonKey string

	// Local state (persisted session + diagnostics), a SQLite file
	StatePath string

	// Timeouts
	HTTPTimeout        time.Duration
	SessionInitTimeout time.Duration

	// Realtime profile-change channel
	RealtimeEnabled bool

	// Error tracking
	SentryDSN   string
	Environment string
}

func Load() *Config {
	return &Config{
		SupabaseURL:     getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey: getEnv("SUPABASE_ANON_KEY", ""),

		StatePath: getEnv("APPCORE_STATE_PATH", defaultStatePath()),

		HTTPTimeout:        parseDuration(getEnv("HTTP_TIMEOUT", "15s"), 15*time.Second),
		SessionInitTimeout: parseDuration(getEnv("SESSION_INIT_TIMEOUT", "8s"), 8*time.Second),

		RealtimeEnabled: getEnv("REALTIME_ENABLED", "true") == "true",

		SentryDSN:   getEnv("SENTRY_DSN", ""),
		Environment: getEnv("APP_ENV", "development"),
	}
}

func defaultStatePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cuidacolitas", "appcore.db")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
