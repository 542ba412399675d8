package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which infrastructure backends are used
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline
	Sanctions SanctionsConfig `json:"sanctions"`
	Rules     RulesConfig     `json:"rules"`
	Risk      RiskConfig      `json:"risk"`
	Alerting  AlertingConfig  `json:"alerting"`

	// Ingestion boundary
	Auth   AuthConfig   `json:"auth"`
	Worker WorkerConfig `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// AllowedOrigins lists CORS origins. Credentials are only allowed for
	// explicit origins, never for "*".
	AllowedOrigins []string `json:"allowedOrigins"`
}

// SanctionsConfig configures the sanctions sources.
type SanctionsConfig struct {
	// Remote OFAC SDN XML feed. Empty disables remote refresh.
	FeedURL         string        `json:"feedUrl"`
	RefreshInterval time.Duration `json:"refreshInterval"`
	FetchTimeout    time.Duration `json:"fetchTimeout"`

	// Locally curated list (CSV or JSON) and high-risk country file.
	LocalListPath         string `json:"localListPath"`
	HighRiskCountriesPath string `json:"highRiskCountriesPath"`

	FuzzyThreshold float64 `json:"fuzzyThreshold"`
}

// RulesConfig configures rule loading.
type RulesConfig struct {
	// DefinitionsPath is a JSON or YAML file of rule definitions.
	DefinitionsPath string `json:"definitionsPath"`

	// Builtin registers the static rule set at startup.
	Builtin bool `json:"builtin"`
}

// RiskConfig configures risk scoring and history lookups.
type RiskConfig struct {
	HighAmountThreshold decimal.Decimal `json:"highAmountThreshold"`
	FrequencyWindow     time.Duration   `json:"frequencyWindow"`
	FrequencyThreshold  int             `json:"frequencyThreshold"`
	HistoryWindow       time.Duration   `json:"historyWindow"`
}

// AlertingConfig configures deduplication and cooldown windows.
type AlertingConfig struct {
	SanctionsCooldown time.Duration `json:"sanctionsCooldown"`
	HighCooldown      time.Duration `json:"highCooldown"`
	DefaultCooldown   time.Duration `json:"defaultCooldown"`

	// FingerprintTTL bounds shared dedup claims in the cache.
	FingerprintTTL time.Duration `json:"fingerprintTtl"`
}

// AuthConfig configures the role check at the ingestion boundary.
// An empty secret disables the check.
type AuthConfig struct {
	JWTSecret    string `json:"-"`
	RequiredRole string `json:"requiredRole"`
}

// WorkerConfig controls the async ingestion consumer.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + local LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"*"},
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Sanctions: SanctionsConfig{
			RefreshInterval: 24 * time.Hour,
			FetchTimeout:    30 * time.Second,
			FuzzyThreshold:  0.8,
		},
		Rules: RulesConfig{
			Builtin: true,
		},
		Risk: RiskConfig{
			HighAmountThreshold: decimal.NewFromInt(100000),
			FrequencyWindow:     24 * time.Hour,
			FrequencyThreshold:  5,
			HistoryWindow:       30 * 24 * time.Hour,
		},
		Alerting: AlertingConfig{
			SanctionsCooldown: 30 * time.Minute,
			HighCooldown:      5 * time.Minute,
			DefaultCooldown:   10 * time.Minute,
			FingerprintTTL:    24 * time.Hour,
		},
		Auth: AuthConfig{
			RequiredRole: "ANALYST",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
