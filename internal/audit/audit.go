// Package audit writes the compliance audit trail.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// EventType names an audit event.
type EventType string

const (
	EventInvalidInput        EventType = "INVALID_INPUT"
	EventEvaluationFailed    EventType = "EVALUATION_FAILED"
	EventAlertTriggered      EventType = "ALERT_TRIGGERED"
	EventAlertSuppressed     EventType = "ALERT_SUPPRESSED"
	EventTransactionCleared  EventType = "TRANSACTION_CLEARED"
	EventBehavioralDeviation EventType = "BEHAVIORAL_DEVIATION"
	EventAlertCreated        EventType = "ALERT_CREATED"
	EventSanctionsRefresh    EventType = "SANCTIONS_REFRESH"
)

// SystemActor is used for events not attributable to a sender.
const SystemActor = "system"

// Store persists audit entries.
type Store interface {
	SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
}

// Logger writes audit events as structured log lines and, when a store is
// configured, to the audit table. Store failures are logged and dropped.
type Logger struct {
	store Store
	log   *slog.Logger
}

// NewLogger creates an audit logger. store may be nil.
func NewLogger(store Store) *Logger {
	return &Logger{
		store: store,
		log:   slog.Default().With("audit", true),
	}
}

// LogEvent records one event.
func (l *Logger) LogEvent(ctx context.Context, eventType EventType, actor, details string) {
	l.log.InfoContext(ctx, "audit event",
		"event_type", string(eventType),
		"actor", actor,
		"details", details,
	)
	l.persist(ctx, &domain.AuditEntry{
		EventType: string(eventType),
		Actor:     actor,
		Details:   details,
	})
}

// alertRecord is the persisted form of an alert audit entry.
type alertRecord struct {
	AlertID           string    `json:"alertId"`
	Type              string    `json:"type"`
	PriorityLevel     string    `json:"priorityLevel"`
	PriorityScore     int       `json:"priorityScore"`
	TxID              string    `json:"txId"`
	Reason            string    `json:"reason"`
	Timestamp         time.Time `json:"timestamp"`
	MatchedEntityName string    `json:"matchedEntityName,omitempty"`
	MatchedList       string    `json:"matchedList,omitempty"`
}

// LogAlert records a created alert.
func (l *Logger) LogAlert(ctx context.Context, alert *domain.Alert) {
	if alert == nil {
		return
	}

	attrs := []any{
		"alert_id", alert.ID,
		"type", string(alert.Type),
		"priority_level", string(alert.PriorityLevel),
		"priority_score", alert.PriorityScore,
		"tx_id", alert.TxID,
		"reason", alert.Reason,
		"timestamp", alert.Timestamp,
	}
	if alert.MatchedEntityName != "" {
		attrs = append(attrs,
			"matched_entity", alert.MatchedEntityName,
			"matched_list", alert.MatchedList,
		)
	}
	l.log.InfoContext(ctx, "alert created", attrs...)

	details, err := json.Marshal(alertRecord{
		AlertID:           alert.ID,
		Type:              string(alert.Type),
		PriorityLevel:     string(alert.PriorityLevel),
		PriorityScore:     alert.PriorityScore,
		TxID:              alert.TxID,
		Reason:            alert.Reason,
		Timestamp:         alert.Timestamp,
		MatchedEntityName: alert.MatchedEntityName,
		MatchedList:       alert.MatchedList,
	})
	if err != nil {
		slog.Warn("failed to encode alert audit record", "alert_id", alert.ID, "error", err)
		return
	}

	l.persist(ctx, &domain.AuditEntry{
		EventType: string(EventAlertCreated),
		Actor:     alert.Sender,
		Details:   string(details),
	})
}

func (l *Logger) persist(ctx context.Context, entry *domain.AuditEntry) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveAuditEntry(ctx, entry); err != nil {
		slog.Warn("failed to persist audit entry", "event_type", entry.EventType, "error", err)
	}
}
