// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func connectTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func ping(db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(timeout))
	defer cancel()
	return db.PingContext(ctx)
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction in the sender history.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, sender, receiver, amount, currency, country,
			dob, risk_level, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET risk_level = excluded.risk_level
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Sender, tx.Receiver,
		tx.Amount.String(), tx.Currency, tx.Country,
		tx.DOB, string(tx.RiskLevel), string(metadata),
		tx.Timestamp.UTC(),
	)
	return err
}

// GetTransactionsBySender returns a sender's transactions since the given time, newest first.
func (r *SQLRepository) GetTransactionsBySender(ctx context.Context, sender string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, sender, receiver, amount, currency, country,
			   dob, risk_level, metadata, timestamp
		FROM transactions
		WHERE sender = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sender, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var dob, riskLevel, metadata sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.Sender, &tx.Receiver,
			&tx.Amount, &tx.Currency, &tx.Country,
			&dob, &riskLevel, &metadata, &tx.Timestamp,
		); err != nil {
			return nil, err
		}

		tx.DOB = dob.String
		tx.RiskLevel = domain.Level(riskLevel.String)
		if metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &tx.Metadata)
		}

		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// CountTransactionsBySender counts a sender's transactions since the given time.
func (r *SQLRepository) CountTransactionsBySender(ctx context.Context, sender string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE sender = ? AND timestamp >= ?`

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), sender, since.UTC()).Scan(&n)
	return n, err
}

// SaveAlert stores an alert. A fingerprint that was already persisted is
// rejected by the unique index.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) (*domain.Alert, error) {
	if alert == nil || alert.ID == "" {
		return nil, fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (
			id, tx_id, sender, type, reason, priority_score, priority_level,
			rule_id, fingerprint, matched_entity_name, matched_list, match_reason, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TxID, alert.Sender, string(alert.Type), alert.Reason,
		alert.PriorityScore, string(alert.PriorityLevel),
		alert.RuleID, alert.Fingerprint,
		alert.MatchedEntityName, alert.MatchedList, alert.MatchReason,
		alert.Timestamp.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}

	return alert, nil
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `
		SELECT id, tx_id, sender, type, reason, priority_score, priority_level,
			   rule_id, fingerprint, matched_entity_name, matched_list, match_reason, timestamp
		FROM alerts
		WHERE id = ?
	`

	var a domain.Alert
	var typ, level string
	var ruleID, entity, list, reason sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), alertID).Scan(
		&a.ID, &a.TxID, &a.Sender, &typ, &a.Reason, &a.PriorityScore, &level,
		&ruleID, &a.Fingerprint, &entity, &list, &reason, &a.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Type = domain.AlertType(typ)
	a.PriorityLevel = domain.Level(level)
	a.RuleID = ruleID.String
	a.MatchedEntityName = entity.String
	a.MatchedList = list.String
	a.MatchReason = reason.String

	return &a, nil
}

// ExistsByFingerprint reports whether an alert with the fingerprint was persisted.
func (r *SQLRepository) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	query := `SELECT COUNT(*) FROM alerts WHERE fingerprint = ?`

	var n int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), fingerprint).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveRuleDefinition upserts a rule definition keyed by description.
func (r *SQLRepository) SaveRuleDefinition(ctx context.Context, def *domain.RuleDefinition) error {
	if def == nil || strings.TrimSpace(def.Description) == "" {
		return fmt.Errorf("%w: rule description is required", ErrInvalidInput)
	}

	tags, err := json.Marshal(def.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_definitions (
			description, sensitivity, type, tags, cooldown_class, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(description) DO UPDATE SET
			sensitivity = excluded.sensitivity,
			type = excluded.type,
			tags = excluded.tags,
			cooldown_class = excluded.cooldown_class,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		def.Description, def.Sensitivity, def.Type, string(tags), string(def.Cooldown),
		now, now,
	)
	return err
}

// ListRuleDefinitions returns all stored rule definitions in insertion order.
func (r *SQLRepository) ListRuleDefinitions(ctx context.Context) ([]*domain.RuleDefinition, error) {
	query := `
		SELECT description, sensitivity, type, tags, cooldown_class
		FROM rule_definitions
		ORDER BY created_at, description
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*domain.RuleDefinition
	for rows.Next() {
		var def domain.RuleDefinition
		var tags string
		var cooldown sql.NullString

		if err := rows.Scan(&def.Description, &def.Sensitivity, &def.Type, &tags, &cooldown); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &def.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for %q: %w", def.Description, err)
		}
		def.Cooldown = domain.CooldownClass(cooldown.String)

		defs = append(defs, &def)
	}

	return defs, rows.Err()
}

// DeleteRuleDefinition removes a rule definition.
func (r *SQLRepository) DeleteRuleDefinition(ctx context.Context, description string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rule_definitions WHERE description = ?`), description)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveAuditEntry appends to the audit log.
func (r *SQLRepository) SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (id, event_type, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.EventType, entry.Actor, entry.Details, entry.CreatedAt,
	)
	return err
}

// ListAuditEntries returns the most recent audit entries of a type, newest first.
func (r *SQLRepository) ListAuditEntries(ctx context.Context, eventType string, limit int) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, event_type, actor, details, created_at
		FROM audit_log
		WHERE event_type = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Actor, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
