// Package casemgmt hands created alerts to case management.
package casemgmt

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/heron/internal/domain"
)

// Publisher is the subset of the event bus the reviewer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Reviewer publishes alerts on the alert topic for downstream review.
// Hand-off is fire-and-forget: failures are logged, never returned.
type Reviewer struct {
	bus Publisher
}

// NewReviewer creates a reviewer. A nil publisher makes it a no-op.
func NewReviewer(bus Publisher) *Reviewer {
	return &Reviewer{bus: bus}
}

// ReviewAlert queues the alert for review.
func (r *Reviewer) ReviewAlert(ctx context.Context, alert *domain.Alert) {
	if r == nil || r.bus == nil || alert == nil {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		slog.Error("failed to encode alert for review", "alert_id", alert.ID, "error", err)
		return
	}

	if err := r.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		slog.Warn("failed to hand off alert for review", "alert_id", alert.ID, "error", err)
		return
	}
	slog.Debug("alert queued for review", "alert_id", alert.ID)
}
