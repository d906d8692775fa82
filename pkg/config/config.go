// Copyright 2025 Certen Protocol
//
// Configuration loading for the IVCU control plane.
// Reads environment variables with safe defaults, with an optional YAML
// overlay for operators who prefer a file. Validate() must be called after
// Load() before the service starts handling traffic.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ivcud control plane service.
type Config struct {
	// Server
	ListenAddr string // health-check listener only; transport is out of scope

	// Event store
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool

	// Collaborators treated as external; informational only when the
	// in-memory fallbacks are used.
	EventBusURL string
	KVURL       string

	// Provider API keys. They are loaded but cmd/ivcud does not register a
	// real provider from them: only the mock provider is registered, and it
	// serves as the router's fallback.
	DeepSeekAPIKey  string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string

	// Security
	JWTSecret string

	// Operational
	LogLevel string
	DataDir  string

	// Bandit / strategy selector
	BanditStatePath string

	// Sandbox (Tier 2 verification)
	SandboxTimeoutSeconds int
	SandboxMemoryMB       int

	// Semantic cache
	CacheMaxEntries        int
	CacheDefaultTTLSeconds int
	CacheSimilarityThresh  float64
	CacheSweepIntervalCron string
	BanditSnapshotCron     string
}

// Load reads configuration from environment variables. It never fails on a
// missing optional variable; call Validate() afterwards to enforce required
// settings before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", false),

		EventBusURL: getEnv("EVENT_BUS_URL", ""),
		KVURL:       getEnv("KV_URL", ""),

		DeepSeekAPIKey:  getEnv("DEEPSEEK_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		DataDir:  getEnv("DATA_DIR", "./data"),

		BanditStatePath: getEnv("BANDIT_STATE_PATH", ""),

		SandboxTimeoutSeconds: getEnvInt("SANDBOX_TIMEOUT_SECONDS", 30),
		SandboxMemoryMB:       getEnvInt("SANDBOX_MEMORY_MB", 128),

		CacheMaxEntries:        getEnvInt("CACHE_MAX_ENTRIES", 1000),
		CacheDefaultTTLSeconds: getEnvInt("CACHE_DEFAULT_TTL_SECONDS", 3600),
		CacheSimilarityThresh:  getEnvFloat("CACHE_SIMILARITY_THRESHOLD", 0.92),
		CacheSweepIntervalCron: getEnv("CACHE_SWEEP_CRON", "@every 1m"),
		BanditSnapshotCron:     getEnv("BANDIT_SNAPSHOT_CRON", "@every 1m"),
	}

	if cfg.BanditStatePath == "" {
		cfg.BanditStatePath = cfg.DataDir + "/bandit_state.json"
	}

	if overlay := getEnv("CONFIG_FILE", ""); overlay != "" {
		if err := cfg.mergeYAMLFile(overlay); err != nil {
			return nil, fmt.Errorf("config: loading overlay %s: %w", overlay, err)
		}
	}

	return cfg, nil
}

// mergeYAMLFile layers a YAML file of the same shape as Config over the
// env-derived defaults. Only fields present in the file are overridden.
func (c *Config) mergeYAMLFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return yaml.Unmarshal(raw, c)
}

// Validate checks that required configuration is present and that
// obviously-insecure values are rejected. It aggregates all problems found
// rather than stopping at the first one, so operators can fix everything in
// one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else {
		weak := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lower := strings.ToLower(c.JWTSecret)
		for _, w := range weak {
			if strings.Contains(lower, w) {
				errs = append(errs, "JWT_SECRET contains a weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters")
		}
	}

	if c.DatabaseRequired && c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set (DATABASE_REQUIRED=true)")
	}

	if c.SandboxTimeoutSeconds <= 0 {
		errs = append(errs, "SANDBOX_TIMEOUT_SECONDS must be positive")
	}
	if c.SandboxMemoryMB <= 0 {
		errs = append(errs, "SANDBOX_MEMORY_MB must be positive")
	}
	if c.CacheSimilarityThresh < 0 || c.CacheSimilarityThresh > 1 {
		errs = append(errs, "CACHE_SIMILARITY_THRESHOLD must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
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
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
