// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction history
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionsBySender(ctx context.Context, sender string, since time.Time) ([]*Transaction, error)
	CountTransactionsBySender(ctx context.Context, sender string, since time.Time) (int, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *Alert) (*Alert, error)
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)

	// Rule definitions
	SaveRuleDefinition(ctx context.Context, def *RuleDefinition) error
	ListRuleDefinitions(ctx context.Context) ([]*RuleDefinition, error)
	DeleteRuleDefinition(ctx context.Context, description string) error

	// Audit trail
	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AuditEntry is one persisted audit record.
type AuditEntry struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific. ":memory:" opens a private in-memory database.
	SQLitePath string

	// PostgreSQL specific. PostgresURL, when set, is used as-is.
	PostgresURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the initial ping. Zero means 10s.
	ConnectTimeout time.Duration
}
