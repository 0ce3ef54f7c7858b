// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	CatalogPath    string // optional YAML override for the built-in catalog
	SessionIdleTTL time.Duration
	// HistoryRetention bounds how long recorded sessions are kept; 0 keeps them forever.
	HistoryRetention time.Duration
	Upload           UploadConfig
	Reasoning        ReasoningConfig
	RateLimit        RateLimitConfig
	ConversationLog  ConversationLogConfig
}

// UploadConfig controls study material uploads.
type UploadConfig struct {
	Dir          string
	PublicPrefix string
	MaxBytes     int64
	Concurrency  int
}

// ReasoningConfig selects and tunes the language-model backend.
type ReasoningConfig struct {
	Provider         string // "openai", "openrouter", "gemini" or "" (disabled)
	Model            string
	BaseURL          string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	GoogleAPIKey     string
	MaxTokens        int
	Temperature      float64
	Timeout          time.Duration
}

// RateLimitConfig bounds how often a learner may send messages.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/gyaanguru.db"),
		CatalogPath:      getEnv("CATALOG_PATH", ""),
		SessionIdleTTL:   getEnvDuration("SESSION_IDLE_TTL", 2*time.Hour),
		HistoryRetention: getEnvDuration("HISTORY_RETENTION", 0),
		Upload: UploadConfig{
			Dir:          getEnv("UPLOAD_DIR", "./data/uploads"),
			PublicPrefix: getEnv("UPLOAD_PUBLIC_PREFIX", "/files/"),
			MaxBytes:     int64(getEnvInt("UPLOAD_MAX_BYTES", 20<<20)),
			Concurrency:  getEnvInt("UPLOAD_CONCURRENCY", 4),
		},
		Reasoning: ReasoningConfig{
			Provider:         strings.ToLower(getEnv("REASONING_PROVIDER", "")),
			Model:            getEnv("REASONING_MODEL", ""),
			BaseURL:          getEnv("REASONING_BASE_URL", ""),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
			GoogleAPIKey:     getEnv("GOOGLE_API_KEY", ""),
			MaxTokens:        getEnvInt("REASONING_MAX_TOKENS", 500),
			Temperature:      getEnvFloat("REASONING_TEMPERATURE", 0.7),
			Timeout:          getEnvDuration("REASONING_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("HISTORY_RETENTION cannot be negative")
	}
	if c.HistoryRetention > 0 && c.HistoryRetention < c.SessionIdleTTL {
		return fmt.Errorf("HISTORY_RETENTION (%s) must be 0 or at least SESSION_IDLE_TTL (%s)", c.HistoryRetention, c.SessionIdleTTL)
	}
	if c.Upload.Dir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if !strings.HasPrefix(c.Upload.PublicPrefix, "/") || !strings.HasSuffix(c.Upload.PublicPrefix, "/") {
		return fmt.Errorf("UPLOAD_PUBLIC_PREFIX must start and end with '/'")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be > 0")
	}
	if c.Upload.Concurrency <= 0 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be > 0")
	}
	switch c.Reasoning.Provider {
	case "", "openai", "openrouter", "gemini":
	default:
		return fmt.Errorf("REASONING_PROVIDER %q is not supported", c.Reasoning.Provider)
	}
	if c.Reasoning.MaxTokens <= 0 {
		return fmt.Errorf("REASONING_MAX_TOKENS must be > 0")
	}
	if c.Reasoning.Temperature < 0 || c.Reasoning.Temperature > 2 {
		return fmt.Errorf("REASONING_TEMPERATURE must be within [0, 2]")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AIEnabled reports whether a reasoning provider is configured.
func (c *Config) AIEnabled() bool {
	return c.Reasoning.Provider != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
