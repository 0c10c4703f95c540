package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client and bridge configuration
type Config struct {
	Port              int
	APIBaseURL        string
	RedisURL          string
	RedisPassword     string
	StoragePrefix     string
	StorageTTL        time.Duration
	StoragePath       string // bolt file used when redis is unreachable
	RoundDuration     time.Duration
	TotalRounds       int
	StreamIdleTimeout time.Duration
	HTTPTimeout       time.Duration
	MaxSessions       int
	AllowedOrigins    []string
	GeminiAPIKey      string // optional, enables the offline demo backend
	GeminiModel       string
	HistoryDB         string
	LogLevel          string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:              8080,
		APIBaseURL:        "http://localhost:8000/api",
		RedisURL:          "localhost:6379",
		StoragePrefix:     "aiticulate:",
		StorageTTL:        30 * 24 * time.Hour,
		StoragePath:       "./aiticulate-state.bolt",
		RoundDuration:     60 * time.Second,
		TotalRounds:       5,
		StreamIdleTimeout: 30 * time.Second,
		HTTPTimeout:       20 * time.Second,
		MaxSessions:       100,
		AllowedOrigins:    []string{"*"},
		GeminiModel:       "gemini-2.5-flash",
		HistoryDB:         "./aiticulate-history.db",
		LogLevel:          "info",
	}

	var err error

	if config.Port, err = intEnv("PORT", config.Port); err != nil {
		return nil, err
	}

	if v := os.Getenv("API_BASE_URL"); v != "" {
		config.APIBaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		config.RedisURL = v
	}
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if v := os.Getenv("STORAGE_PREFIX"); v != "" {
		config.StoragePrefix = v
	}

	if v := os.Getenv("STORAGE_PATH"); v != "" {
		config.StoragePath = v
	}

	// STORAGE_TTL in hours
	if config.StorageTTL, err = durationEnv("STORAGE_TTL", config.StorageTTL, time.Hour); err != nil {
		return nil, err
	}

	// ROUND_DURATION in seconds
	if config.RoundDuration, err = durationEnv("ROUND_DURATION", config.RoundDuration, time.Second); err != nil {
		return nil, err
	}
	if config.RoundDuration < time.Second {
		return nil, fmt.Errorf("invalid ROUND_DURATION: must be at least 1 second")
	}

	if config.TotalRounds, err = intEnv("TOTAL_ROUNDS", config.TotalRounds); err != nil {
		return nil, err
	}
	if config.TotalRounds < 1 {
		return nil, fmt.Errorf("invalid TOTAL_ROUNDS: must be at least 1")
	}

	// STREAM_IDLE_TIMEOUT in seconds, 0 disables
	if config.StreamIdleTimeout, err = durationEnv("STREAM_IDLE_TIMEOUT", config.StreamIdleTimeout, time.Second); err != nil {
		return nil, err
	}

	if config.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", config.HTTPTimeout, time.Second); err != nil {
		return nil, err
	}

	if config.MaxSessions, err = intEnv("MAX_SESSIONS", config.MaxSessions); err != nil {
		return nil, err
	}

	// ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		config.GeminiModel = v
	}

	if v := os.Getenv("HISTORY_DB"); v != "" {
		config.HistoryDB = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.LogLevel = strings.ToLower(v)
	}

	return config, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration, unit time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return time.Duration(n) * unit, nil
}
