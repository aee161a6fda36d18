// Package config handles the loading and parsing of application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the chat coordination core.
type Config struct {
	// --- Core Settings ---
	ServerAddr  string // Address for the HTTP/WebSocket server to listen on (e.g., ":8080").
	DatabaseURL string // Postgres DSN backing the MessageStore/ReportStore.
	RedisAddr   string // Address of the Redis instance backing the HotStore.
	JWTSecret   string // Secret used to sign session tokens issued by the HTTP surface.

	MigrationsPath     string // Path to the database migration files.
	CORSAllowedOrigins string // Comma-separated list of allowed CORS origins.

	// --- Pairing / liveness (spec.md §6) ---
	GracePeriod      time.Duration // Window for pair restoration after disconnect.
	PingInterval     time.Duration // Heartbeat cadence.
	PongTimeout      time.Duration // Pong wait, informational for clients.
	MaxMissedPings   int           // Eviction threshold.
	StarvationBonus  time.Duration // Waiter age above which the starvation score bonus applies.
	QueueSweepPeriod time.Duration // Cadence for MatchQueues.Sweep.

	// --- Moderation ---
	ModerationURL         string        // Remote toxicity classifier endpoint. Empty disables Layer 2.
	ModerationThreshold   float64       // Layer 2 flag threshold.
	ModerationTimeout     time.Duration // Layer 2 request timeout.
	ModerationBlockOnFail bool          // If true, Layer 2 timeout/error blocks instead of failing open.
	MaxFlagsBeforeWarn    int           // First threshold in escalation table.
	MaxFlagsBeforeKick    int           // Second threshold in escalation table.

	// --- Messages ---
	MessageExpiry time.Duration // Default TTL scheduled on pair end.

	ShutdownTimeout time.Duration // Graceful shutdown timeout.
}

// Load reads environment variables and populates the Config struct.
// It sets sensible defaults for non-critical values, matching spec.md §6.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		MigrationsPath:     getEnv("MIGRATIONS_PATH", "migrations"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		GracePeriod:      getEnvAsDuration("GRACE_PERIOD_MS", 30_000*time.Millisecond),
		PingInterval:     getEnvAsDuration("PING_INTERVAL_MS", 15_000*time.Millisecond),
		PongTimeout:      getEnvAsDuration("PONG_TIMEOUT_MS", 5_000*time.Millisecond),
		MaxMissedPings:   getEnvAsInt("MAX_MISSED_PINGS", 2),
		StarvationBonus:  getEnvAsDuration("STARVATION_BONUS_MS", 30_000*time.Millisecond),
		QueueSweepPeriod: getEnvAsDuration("QUEUE_SWEEP_PERIOD_MS", 30_000*time.Millisecond),

		ModerationURL:         getEnv("MODERATION_URL", ""),
		ModerationThreshold:   getEnvAsFloat("MODERATION_THRESHOLD", 0.5),
		ModerationTimeout:     getEnvAsDuration("MODERATION_TIMEOUT_MS", 8_000*time.Millisecond),
		ModerationBlockOnFail: getEnvAsBool("MODERATION_BLOCK_ON_FAIL", false),
		MaxFlagsBeforeWarn:    getEnvAsInt("MAX_FLAGS_BEFORE_WARN", 2),
		MaxFlagsBeforeKick:    getEnvAsInt("MAX_FLAGS_BEFORE_KICK", 5),

		MessageExpiry: time.Duration(getEnvAsInt("MESSAGE_EXPIRY_HOURS", 12)) * time.Hour,

		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := validateCriticalConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateCriticalConfig checks that essential configuration values are
// set. DATABASE_URL is deliberately not required here: leaving it unset
// is how a local/dev run selects the in-memory MessageStore/ReportStore
// fallback in cmd/chatcore/main.go.
func validateCriticalConfig(cfg *Config) error {
	criticalVars := map[string]string{
		"JWT_SECRET": cfg.JWTSecret,
	}
	var missing []string
	for name, value := range criticalVars {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing critical environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// --- Helper functions for robust environment variable loading ---

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts either a Go duration string (e.g. "30s") or a
// bare millisecond count, since most of spec.md's duration keys are named
// with an "_MS" suffix but operators commonly export plain integers.
// MESSAGE_EXPIRY_HOURS does not go through here: Load reads it as a whole
// number of hours.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
