// Package evaluator runs a transaction through sanctions screening, rule
// matching, risk scoring and the alert decision, in that order.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/behavior"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/risk"
	"github.com/opensource-finance/heron/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("heron-evaluator")

// Screener is the refreshed remote sanctions cache.
type Screener interface {
	Match(name, country string) (domain.SanctionsMatchResult, bool)
}

// SanctionsList is the locally loaded sanctions store.
type SanctionsList interface {
	CountrySanction(country string) (domain.SanctionsMatchResult, bool)
	MatchName(name, dob string) (domain.SanctionsMatchResult, bool)
}

// RuleMatcher evaluates the active rules.
type RuleMatcher interface {
	Match(tx *domain.Transaction) []*domain.Rule
}

// History supplies a sender's past transactions and records new ones.
type History interface {
	GetHistory(ctx context.Context, sender string) ([]*domain.Transaction, error)
	Record(ctx context.Context, tx *domain.Transaction) error
}

// Auditor records audit events.
type Auditor interface {
	LogEvent(ctx context.Context, eventType audit.EventType, actor, details string)
}

// Observer receives pipeline metrics.
type Observer interface {
	ObserveEvaluation(status string, d time.Duration)
	AlertCreated(alertType string)
	AlertSuppressed(cause string)
	SanctionsMatched(list string)
}

// Deps are the collaborators of an Evaluator. Rules, Scorer and Alerts are
// required; the rest may be nil.
type Deps struct {
	Screener  Screener
	Sanctions SanctionsList
	Rules     RuleMatcher
	Scorer    *risk.Scorer
	Detector  *behavior.Detector
	History   History
	Alerts    *alerting.Engine
	Audit     Auditor
	Observer  Observer
}

// Evaluator is the single entry point for transaction evaluation.
type Evaluator struct {
	deps Deps

	totalEvaluated   atomic.Int64
	alertsGenerated  atomic.Int64
	sanctionsMatches atomic.Int64
	invalidInputs    atomic.Int64
	failures         atomic.Int64
	ruleMatches      sync.Map // description -> *atomic.Int64
}

// New creates an evaluator.
func New(deps Deps) (*Evaluator, error) {
	switch {
	case deps.Rules == nil:
		return nil, errors.New("rule matcher is required")
	case deps.Scorer == nil:
		return nil, errors.New("risk scorer is required")
	case deps.Alerts == nil:
		return nil, errors.New("alert engine is required")
	}
	return &Evaluator{deps: deps}, nil
}

// Evaluate runs the full pipeline and always returns a result. Invalid input
// and internal failures are reported through the result status.
func (e *Evaluator) Evaluate(ctx context.Context, tx *domain.Transaction) (result domain.IngestionResult) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "heron.evaluate")
	defer span.End()

	e.totalEvaluated.Add(1)
	if tx != nil && tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", domain.ErrEvaluationFailed, r)
			result = e.failed(ctx, tx, err)
			span.SetStatus(codes.Error, err.Error())
		}
		if e.deps.Observer != nil {
			e.deps.Observer.ObserveEvaluation(string(result.Status), time.Since(start))
		}
	}()

	if err := tx.Validate(); err != nil {
		e.invalidInputs.Add(1)
		actor := ""
		if tx != nil {
			actor = tx.Sender
		}
		e.audit(ctx, audit.EventInvalidInput, actor, err.Error())
		slog.Info("transaction rejected", "error", err)
		return domain.IngestionResult{
			Status: domain.StatusInvalidInput,
			Error:  err.Error(),
		}
	}
	span.SetAttributes(attribute.String("tx.id", tx.ID))

	decision := e.EvaluateForAlert(ctx, tx)
	tx.RiskLevel = domain.RiskLevelFor(decision.RiskScore)

	if e.deps.History != nil {
		if err := e.deps.History.Record(ctx, tx); err != nil {
			slog.Warn("failed to record transaction history", "tx_id", tx.ID, "error", err)
		}
	}

	result = domain.IngestionResult{
		TxID:      tx.ID,
		Status:    domain.StatusSuccess,
		RiskScore: decision.RiskScore,
		RiskLevel: tx.RiskLevel,
		Outcome:   decision.Outcome.String(),
	}
	if decision.Alert != nil {
		id := decision.Alert.ID
		result.AlertGenerated = true
		result.AlertID = &id
		result.AlertPersisted = decision.AlertPersisted
	}

	slog.Info("transaction evaluated",
		"tx_id", tx.ID,
		"sender", tx.Sender,
		"outcome", result.Outcome,
		"risk_score", decision.RiskScore,
		"priority_score", decision.PriorityScore,
		"reason", decision.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

func (e *Evaluator) failed(ctx context.Context, tx *domain.Transaction, err error) domain.IngestionResult {
	e.failures.Add(1)
	actor, txID := "", ""
	if tx != nil {
		actor, txID = tx.Sender, tx.ID
	}
	slog.Error("evaluation failed", "tx_id", txID, "sender", actor, "error", err)
	e.audit(ctx, audit.EventEvaluationFailed, actor, err.Error())
	return domain.IngestionResult{
		TxID:   txID,
		Status: domain.StatusEvaluationFailed,
		Error:  err.Error(),
	}
}

// EvaluateForAlert produces the alert decision for a validated transaction.
func (e *Evaluator) EvaluateForAlert(ctx context.Context, tx *domain.Transaction) *domain.AlertDecisionResult {
	if match := e.CheckSanctions(ctx, tx); match.IsSanctioned {
		return e.sanctionsDecision(ctx, tx, match)
	}

	e.checkBehavior(ctx, tx)

	factors := e.deps.Scorer.Factors(ctx, tx)
	riskScore := factors.Score()
	tx.FrequentSender = factors.FrequentSender

	ctx, span := tracer.Start(ctx, "heron.rules")
	matched := e.deps.Rules.Match(tx)
	span.SetAttributes(attribute.Int("rules.matched", len(matched)))
	span.End()

	if len(matched) == 0 {
		e.audit(ctx, audit.EventTransactionCleared, tx.Sender, fmt.Sprintf("tx %s risk %d", tx.ID, riskScore))
		return domain.NoAlertDecision(riskScore)
	}

	descriptions := rules.Descriptions(matched)
	for _, d := range descriptions {
		v, _ := e.ruleMatches.LoadOrStore(d, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
	}

	return e.ruleDecision(ctx, tx, rules.Primary(matched), descriptions, factors, riskScore)
}

func (e *Evaluator) sanctionsDecision(ctx context.Context, tx *domain.Transaction, match domain.SanctionsMatchResult) *domain.AlertDecisionResult {
	ctx, span := tracer.Start(ctx, "heron.alert", trace.WithAttributes(attribute.String("alert.path", "sanctions")))
	defer span.End()

	e.sanctionsMatches.Add(1)
	if e.deps.Observer != nil {
		e.deps.Observer.SanctionsMatched(match.MatchedList)
	}

	riskScore := e.deps.Scorer.Score(ctx, tx)
	reason := match.FormattedReason()
	if e.deps.Alerts.ShouldSuppressAlert(ctx, tx, reason) {
		e.suppressed(ctx, tx, domain.SuppressedDuplicate, reason)
		decision := domain.DuplicateDecision(reason, riskScore, nil, []string{"SANCTIONS"})
		decision.Sanctions = &match
		return decision
	}

	alert := e.deps.Alerts.CreateAlert(tx, nil, reason, 100, &match)
	decision := domain.SanctionsDecision(alert, match, riskScore)
	decision.AlertPersisted = e.process(ctx, tx, alert)
	return decision
}

func (e *Evaluator) ruleDecision(ctx context.Context, tx *domain.Transaction, primary *domain.Rule, matched []string, factors risk.Factors, riskScore int) *domain.AlertDecisionResult {
	ctx, span := tracer.Start(ctx, "heron.alert", trace.WithAttributes(
		attribute.String("alert.path", "rule"),
		attribute.String("rule", primary.Description),
	))
	defer span.End()

	reason := "Rule matched: " + primary.Description

	if e.deps.Alerts.ShouldSuppressAlert(ctx, tx, reason) {
		e.suppressed(ctx, tx, domain.SuppressedDuplicate, reason)
		return domain.DuplicateDecision(reason, riskScore, primary, matched)
	}
	if e.deps.Alerts.IsInCooldown(tx.Sender, primary.Description) {
		e.suppressed(ctx, tx, domain.SuppressedCooldown, reason)
		return domain.CooldownDecision(reason, riskScore, primary, matched)
	}

	priority := risk.Priority(riskScore, primary, factors)
	alert := e.deps.Alerts.CreateAlert(tx, primary, reason, priority, nil)
	e.deps.Alerts.RegisterRuleCooldown(tx.Sender, primary)

	decision := domain.RuleMatchDecision(alert, primary, riskScore, matched)
	decision.AlertPersisted = e.process(ctx, tx, alert)
	return decision
}

func (e *Evaluator) process(ctx context.Context, tx *domain.Transaction, alert *domain.Alert) bool {
	e.alertsGenerated.Add(1)
	if e.deps.Observer != nil {
		e.deps.Observer.AlertCreated(string(alert.Type))
	}

	persisted := e.deps.Alerts.ProcessAlert(ctx, alert)
	e.audit(ctx, audit.EventAlertTriggered, tx.Sender, fmt.Sprintf("alert %s (%s, %s): %s",
		alert.ID, alert.Type, alert.PriorityLevel, alert.Reason))
	return persisted
}

func (e *Evaluator) suppressed(ctx context.Context, tx *domain.Transaction, cause domain.SuppressionCause, reason string) {
	e.deps.Alerts.RecordSuppression(cause)
	if e.deps.Observer != nil {
		e.deps.Observer.AlertSuppressed(string(cause))
	}
	e.audit(ctx, audit.EventAlertSuppressed, tx.Sender, fmt.Sprintf("%s: %s", cause, reason))
}

// CheckSanctions screens the sender: remote feed first, then country
// sanctions, then the local name list. The first hit wins.
func (e *Evaluator) CheckSanctions(ctx context.Context, tx *domain.Transaction) domain.SanctionsMatchResult {
	_, span := tracer.Start(ctx, "heron.sanctions")
	defer span.End()

	if e.deps.Screener != nil {
		if m, ok := e.deps.Screener.Match(tx.Sender, tx.Country); ok {
			span.SetAttributes(attribute.String("sanctions.list", m.MatchedList))
			return m
		}
	}
	if e.deps.Sanctions != nil {
		if m, ok := e.deps.Sanctions.CountrySanction(tx.Country); ok {
			span.SetAttributes(attribute.String("sanctions.list", m.MatchedList))
			return m
		}
		if m, ok := e.deps.Sanctions.MatchName(tx.Sender, tx.DOB); ok {
			span.SetAttributes(attribute.String("sanctions.list", m.MatchedList))
			return m
		}
	}
	return domain.NoSanctionsMatch()
}

// checkBehavior logs deviations from the sender's history. It never gates
// alert creation.
func (e *Evaluator) checkBehavior(ctx context.Context, tx *domain.Transaction) {
	if e.deps.Detector == nil || e.deps.History == nil {
		return
	}

	history, err := e.deps.History.GetHistory(ctx, tx.Sender)
	if err != nil {
		slog.Warn("history unavailable for behavioral check", "sender", tx.Sender, "error", err)
		return
	}

	dev := e.deps.Detector.Analyze(tx, history)
	if !dev.Flagged() {
		return
	}

	slog.Info("behavioral deviation",
		"tx_id", tx.ID,
		"sender", tx.Sender,
		"mean", dev.Mean.String(),
		"amount_spike", dev.AmountSpike,
		"high_activity", dev.HighActivity,
		"history_length", dev.HistoryLength,
	)
	e.audit(ctx, audit.EventBehavioralDeviation, tx.Sender, fmt.Sprintf(
		"tx %s amount %s vs mean %s over %d transactions",
		tx.ID, tx.Amount.String(), dev.Mean.StringFixed(2), dev.HistoryLength))
}

func (e *Evaluator) audit(ctx context.Context, eventType audit.EventType, actor, details string) {
	if e.deps.Audit != nil {
		e.deps.Audit.LogEvent(ctx, eventType, actor, details)
	}
}

// Stats returns a snapshot of the evaluation counters.
func (e *Evaluator) Stats() domain.EvaluationStats {
	matches := make(map[string]int64)
	e.ruleMatches.Range(func(k, v any) bool {
		matches[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return domain.EvaluationStats{
		TotalEvaluated:   e.totalEvaluated.Load(),
		AlertsGenerated:  e.alertsGenerated.Load(),
		SanctionsMatches: e.sanctionsMatches.Load(),
		InvalidInputs:    e.invalidInputs.Load(),
		Failures:         e.failures.Load(),
		RuleMatches:      matches,
	}
}
