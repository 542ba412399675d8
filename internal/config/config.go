// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Load reads an optional .env file and applies HERON_* variables on top of
// the tier defaults. Real environment variables win over the file.
func Load(envFiles ...string) (*domain.Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(getEnv("HERON_TIER", ""), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	// Server
	cfg.Server.Host = getEnv("HERON_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("HERON_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvList("HERON_CORS_ORIGINS", cfg.Server.AllowedOrigins)

	// Repository
	cfg.Repository.Driver = getEnv("HERON_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("HERON_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresURL = getEnv("HERON_DATABASE_URL", cfg.Repository.PostgresURL)
	cfg.Repository.PostgresHost = getEnv("HERON_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("HERON_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("HERON_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("HERON_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("HERON_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("HERON_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.ConnectTimeout = getEnvDuration("HERON_DB_CONNECT_TIMEOUT", cfg.Repository.ConnectTimeout)

	// Cache
	cfg.Cache.Type = getEnv("HERON_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("HERON_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("HERON_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("HERON_REDIS_DB", cfg.Cache.RedisDB)

	// Event bus
	cfg.EventBus.Type = getEnv("HERON_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("HERON_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("HERON_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.Worker.Enabled = getEnvBool("HERON_ASYNC_WORKER", cfg.Worker.Enabled)

	// Sanctions
	cfg.Sanctions.FeedURL = getEnv("HERON_OFAC_URL", cfg.Sanctions.FeedURL)
	cfg.Sanctions.RefreshInterval = getEnvDuration("HERON_SANCTIONS_REFRESH", cfg.Sanctions.RefreshInterval)
	cfg.Sanctions.FetchTimeout = getEnvDuration("HERON_SANCTIONS_TIMEOUT", cfg.Sanctions.FetchTimeout)
	cfg.Sanctions.LocalListPath = getEnv("HERON_SANCTIONS_LIST", cfg.Sanctions.LocalListPath)
	cfg.Sanctions.HighRiskCountriesPath = getEnv("HERON_HIGH_RISK_COUNTRIES", cfg.Sanctions.HighRiskCountriesPath)
	cfg.Sanctions.FuzzyThreshold = getEnvFloat("HERON_FUZZY_THRESHOLD", cfg.Sanctions.FuzzyThreshold)

	// Rules
	cfg.Rules.DefinitionsPath = getEnv("HERON_RULES_FILE", cfg.Rules.DefinitionsPath)
	cfg.Rules.Builtin = getEnvBool("HERON_BUILTIN_RULES", cfg.Rules.Builtin)

	// Risk
	if v := getEnv("HERON_HIGH_AMOUNT", ""); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("HERON_HIGH_AMOUNT: %w", err)
		}
		cfg.Risk.HighAmountThreshold = amount
	}
	cfg.Risk.FrequencyWindow = getEnvDuration("HERON_FREQUENCY_WINDOW", cfg.Risk.FrequencyWindow)
	cfg.Risk.FrequencyThreshold = getEnvInt("HERON_FREQUENCY_THRESHOLD", cfg.Risk.FrequencyThreshold)
	cfg.Risk.HistoryWindow = getEnvDuration("HERON_HISTORY_WINDOW", cfg.Risk.HistoryWindow)

	// Alerting
	cfg.Alerting.SanctionsCooldown = getEnvDuration("HERON_COOLDOWN_SANCTIONS", cfg.Alerting.SanctionsCooldown)
	cfg.Alerting.HighCooldown = getEnvDuration("HERON_COOLDOWN_HIGH", cfg.Alerting.HighCooldown)
	cfg.Alerting.DefaultCooldown = getEnvDuration("HERON_COOLDOWN_DEFAULT", cfg.Alerting.DefaultCooldown)
	cfg.Alerting.FingerprintTTL = getEnvDuration("HERON_FINGERPRINT_TTL", cfg.Alerting.FingerprintTTL)

	// Auth
	cfg.Auth.JWTSecret = getEnv("HERON_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.RequiredRole = getEnv("HERON_REQUIRED_ROLE", cfg.Auth.RequiredRole)

	// Observability
	cfg.Logging.Level = getEnv("HERON_LOG_LEVEL", cfg.Logging.Level)
	if getEnvBool("HERON_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = getEnv("HERON_LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Enabled = getEnvBool("HERON_TRACING", cfg.Tracing.Enabled)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and required combinations.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("HERON_PORT must be between 1 and 65535")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported HERON_DB_DRIVER: %s", cfg.Repository.Driver)
	}
	if cfg.Sanctions.FuzzyThreshold <= 0 || cfg.Sanctions.FuzzyThreshold > 1 {
		return fmt.Errorf("HERON_FUZZY_THRESHOLD must be in (0,1]")
	}
	if !cfg.Risk.HighAmountThreshold.IsPositive() {
		return fmt.Errorf("HERON_HIGH_AMOUNT must be positive")
	}
	if cfg.Sanctions.FeedURL != "" && cfg.Sanctions.RefreshInterval <= 0 {
		return fmt.Errorf("HERON_SANCTIONS_REFRESH must be positive when a feed is configured")
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(cfg *domain.Config) slog.Level {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("ignoring invalid number", "key", key, "value", v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean", "key", key, "value", v)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
	}
	return fallback
}
