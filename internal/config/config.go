// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Strategos optimization engine.
type Config struct {
	// Server
	Port           string
	LogLevel       string
	AllowedOrigins []string

	// Database
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	DBSSLMode   string
	DatabaseURL string // overrides the POSTGRES_* fields when set

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Budget
	BudgetDailyUSD       float64
	BudgetWeeklyUSD      float64
	BudgetMonthlyUSD     float64
	BudgetAlertThreshold float64
	RolloverInterval     time.Duration

	// Routing
	DefaultStrategy  string
	BaselineProvider string
	ProvidersFile    string // optional YAML override of the provider table

	LedgerCapacity     int
	RateLimitPerMinute int // 0 disables rate limiting
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("STRATEGOS_PORT", "8080"),
		LogLevel: getEnv("STRATEGOS_LOG_LEVEL", "info"),

		DBHost:      getEnv("POSTGRES_HOST", "localhost"),
		DBName:      getEnv("POSTGRES_DB", "opencloudops"),
		DBUser:      getEnv("POSTGRES_USER", "oco_user"),
		DBPassword:  getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:   getEnv("POSTGRES_SSLMODE", "disable"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		DefaultStrategy:  getEnv("STRATEGOS_DEFAULT_STRATEGY", "balance"),
		BaselineProvider: getEnv("STRATEGOS_BASELINE_PROVIDER", "claude"),
		ProvidersFile:    os.Getenv("STRATEGOS_PROVIDERS_FILE"),
	}

	for _, origin := range strings.Split(getEnv("STRATEGOS_ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	var err error
	if cfg.DBPort, err = strconv.Atoi(getEnv("POSTGRES_PORT", "5432")); err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}
	if cfg.RedisPort, err = strconv.Atoi(getEnv("REDIS_PORT", "6379")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}

	floats := []struct {
		key  string
		def  string
		dest *float64
	}{
		{"STRATEGOS_BUDGET_DAILY_USD", "50", &cfg.BudgetDailyUSD},
		{"STRATEGOS_BUDGET_WEEKLY_USD", "300", &cfg.BudgetWeeklyUSD},
		{"STRATEGOS_BUDGET_MONTHLY_USD", "1000", &cfg.BudgetMonthlyUSD},
		{"STRATEGOS_BUDGET_ALERT_THRESHOLD", "0.8", &cfg.BudgetAlertThreshold},
	}
	for _, f := range floats {
		if *f.dest, err = strconv.ParseFloat(getEnv(f.key, f.def), 64); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.key, err)
		}
	}

	if cfg.LedgerCapacity, err = strconv.Atoi(getEnv("STRATEGOS_LEDGER_CAPACITY", "10000")); err != nil {
		return nil, fmt.Errorf("invalid STRATEGOS_LEDGER_CAPACITY: %w", err)
	}
	if cfg.RateLimitPerMinute, err = strconv.Atoi(getEnv("STRATEGOS_RATE_LIMIT_PER_MINUTE", "600")); err != nil {
		return nil, fmt.Errorf("invalid STRATEGOS_RATE_LIMIT_PER_MINUTE: %w", err)
	}
	if cfg.RolloverInterval, err = time.ParseDuration(getEnv("STRATEGOS_ROLLOVER_INTERVAL", "1m")); err != nil {
		return nil, fmt.Errorf("invalid STRATEGOS_ROLLOVER_INTERVAL: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges that parsing alone cannot catch.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: STRATEGOS_PORT is required")
	}
	if c.BudgetDailyUSD <= 0 || c.BudgetWeeklyUSD <= 0 || c.BudgetMonthlyUSD <= 0 {
		return fmt.Errorf("config: budget limits must be positive")
	}
	if c.BudgetAlertThreshold <= 0 || c.BudgetAlertThreshold > 1 {
		return fmt.Errorf("config: STRATEGOS_BUDGET_ALERT_THRESHOLD must be in (0,1], got %v", c.BudgetAlertThreshold)
	}
	if c.LedgerCapacity <= 0 {
		return fmt.Errorf("config: STRATEGOS_LEDGER_CAPACITY must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: STRATEGOS_RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.RolloverInterval <= 0 {
		return fmt.Errorf("config: STRATEGOS_ROLLOVER_INTERVAL must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	if c.DatabaseURL != "" {
		return "DATABASE_URL (redacted)"
	}
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
