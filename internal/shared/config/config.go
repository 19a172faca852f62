package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Redis (optional, enables per-key rate limiting)
	RedisURL string

	// Credential hashing
	KeySalt             string
	ExternalKeyPrefixes []string

	// Upstream provider
	AnthropicAPIKey      string
	AnthropicBaseURL     string
	AnthropicVersion     string
	PassthroughStreaming bool
	UpstreamTimeout      time.Duration

	// Request defaults
	DefaultModel       string
	DefaultTemperature float64
	DefaultMaxTokens   int
	ModelAliases       map[string]string

	// Budgets
	EnforceBudgets           bool
	DefaultMonthlyLimitUSD   float64
	DefaultMonthlyTokenLimit int64

	// Rate Limiting
	DefaultRateLimit int

	// Accounting
	StorePrompts bool

	// Metrics
	MetricsEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", "8000"),
		Env:                      getEnv("ENV", "development"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "text"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RedisURL:                 getEnv("REDIS_URL", ""),
		KeySalt:                  getEnv("GATEWAY_KEY_SALT", ""),
		ExternalKeyPrefixes:      getEnvList("EXTERNAL_KEY_PREFIXES", []string{"sk-ant-"}),
		AnthropicAPIKey:          getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:         getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicVersion:         getEnv("ANTHROPIC_VERSION", "2023-06-01"),
		PassthroughStreaming:     getEnvBool("ANTHROPIC_PASSTHROUGH_STREAMING", false),
		UpstreamTimeout:          time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 0)) * time.Second,
		DefaultModel:             getEnv("DEFAULT_MODEL", "claude-fast"),
		DefaultTemperature:       getEnvFloat("DEFAULT_TEMPERATURE", 0.2),
		DefaultMaxTokens:         getEnvInt("DEFAULT_MAX_TOKENS", 1024),
		ModelAliases:             LoadModelAliases(),
		EnforceBudgets:           getEnvBool("ENFORCE_BUDGETS", true),
		DefaultMonthlyLimitUSD:   getEnvFloat("DEFAULT_MONTHLY_LIMIT_USD", 200),
		DefaultMonthlyTokenLimit: int64(getEnvInt("DEFAULT_MONTHLY_TOKEN_LIMIT", 0)),
		DefaultRateLimit:         getEnvInt("DEFAULT_RATE_LIMIT", 100),
		StorePrompts:             getEnvBool("STORE_PROMPTS", true),
		MetricsEnabled:           getEnvBool("METRICS_ENABLED", true),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.KeySalt == "" {
		return nil, fmt.Errorf("GATEWAY_KEY_SALT is required")
	}

	return cfg, nil
}

// KeySaltFromEnv returns GATEWAY_KEY_SALT for the key commands, which do
// not need the rest of the server configuration.
func KeySaltFromEnv() (string, error) {
	_ = godotenv.Load()
	salt := getEnv("GATEWAY_KEY_SALT", "")
	if salt == "" {
		return "", fmt.Errorf("GATEWAY_KEY_SALT is required")
	}
	return salt, nil
}

// DatabaseURLFromEnv returns DATABASE_URL for the admin commands.
func DatabaseURLFromEnv() (string, error) {
	_ = godotenv.Load()
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		return "", fmt.Errorf("DATABASE_URL is required")
	}
	return url, nil
}

// LoadModelAliases returns the alias table with environment overrides applied.
func LoadModelAliases() map[string]string {
	return map[string]string{
		"claude-fast":    getEnv("CLAUDE_FAST_MODEL", "claude-3-haiku-20240307"),
		"claude-quality": getEnv("CLAUDE_QUALITY_MODEL", "claude-3-sonnet-20240229"),
		"claude-premium": getEnv("CLAUDE_PREMIUM_MODEL", "claude-3-sonnet-20240229"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
