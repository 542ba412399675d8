// Package alerting creates alerts and guards against duplicates and alert storms.
package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
)

// AlertStore persists alerts and answers durable fingerprint lookups.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *domain.Alert) (*domain.Alert, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

// Auditor records created alerts.
type Auditor interface {
	LogAlert(ctx context.Context, alert *domain.Alert)
}

// Reviewer receives persisted alerts.
type Reviewer interface {
	ReviewAlert(ctx context.Context, alert *domain.Alert)
}

// Config holds cooldown windows and the fingerprint retention.
type Config struct {
	SanctionsCooldown time.Duration
	HighCooldown      time.Duration
	DefaultCooldown   time.Duration
	FingerprintTTL    time.Duration
}

// DefaultConfig returns the standard windows.
func DefaultConfig() Config {
	return Config{
		SanctionsCooldown: 30 * time.Minute,
		HighCooldown:      5 * time.Minute,
		DefaultCooldown:   10 * time.Minute,
		FingerprintTTL:    24 * time.Hour,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the alert store.
func WithStore(s AlertStore) Option { return func(e *Engine) { e.store = s } }

// WithCache enables cross-process fingerprint claims.
func WithCache(c domain.Cache) Option { return func(e *Engine) { e.cache = c } }

// WithAuditor sets the audit collaborator.
func WithAuditor(a Auditor) Option { return func(e *Engine) { e.auditor = a } }

// WithReviewer sets the case-management collaborator.
func WithReviewer(r Reviewer) Option { return func(e *Engine) { e.reviewer = r } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

type cooldownEntry struct {
	at       time.Time
	duration time.Duration
}

// Engine is the alert decision engine. All methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	store    AlertStore
	cache    domain.Cache
	auditor  Auditor
	reviewer Reviewer
	now      func() time.Time

	fingerprints     sync.Map // fingerprint -> time.Time first seen
	fingerprintCount atomic.Int64
	cooldowns        sync.Map // cooldown key -> cooldownEntry

	totalCreated        atomic.Int64
	duplicateSuppressed atomic.Int64
	cooldownSuppressed  atomic.Int64
	processingFailures  atomic.Int64
	byType              sync.Map // string -> *atomic.Int64
	byRule              sync.Map // string -> *atomic.Int64
}

// NewEngine creates an alert engine. Zero durations fall back to the defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.SanctionsCooldown <= 0 {
		cfg.SanctionsCooldown = def.SanctionsCooldown
	}
	if cfg.HighCooldown <= 0 {
		cfg.HighCooldown = def.HighCooldown
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = def.DefaultCooldown
	}

	e := &Engine{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fingerprint is the SHA-256 hex digest of the alert-defining content. The
// reason is trimmed and lower-cased.
func Fingerprint(tx *domain.Transaction, reason string) string {
	var b strings.Builder
	b.WriteString(tx.Sender)
	b.WriteByte('|')
	b.WriteString(tx.Receiver)
	b.WriteByte('|')
	b.WriteString(tx.Amount.String())
	b.WriteByte('|')
	b.WriteString(tx.Currency)
	b.WriteByte('|')
	b.WriteString(tx.Country)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(reason)))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CooldownKey identifies a (sender, rule) cooldown.
func CooldownKey(sender, ruleID string) string {
	return sender + "|" + ruleID
}

// InferCooldownClass derives a class from a rule identifier.
func InferCooldownClass(ruleID string) domain.CooldownClass {
	id := strings.ToLower(ruleID)
	switch {
	case strings.Contains(id, "sanction"):
		return domain.CooldownSanctions
	case strings.Contains(id, "high"), strings.Contains(id, "priority"):
		return domain.CooldownHigh
	default:
		return domain.CooldownDefault
	}
}

// ClassFor returns the rule's explicit class, or the inferred one.
func ClassFor(rule *domain.Rule) domain.CooldownClass {
	if rule.Cooldown != "" {
		return rule.Cooldown
	}
	return InferCooldownClass(rule.Description)
}

// Duration returns the window for a class.
func (e *Engine) Duration(class domain.CooldownClass) time.Duration {
	switch class {
	case domain.CooldownSanctions:
		return e.cfg.SanctionsCooldown
	case domain.CooldownHigh:
		return e.cfg.HighCooldown
	default:
		return e.cfg.DefaultCooldown
	}
}

// CooldownFor returns the window for a rule identifier.
func (e *Engine) CooldownFor(ruleID string) time.Duration {
	return e.Duration(InferCooldownClass(ruleID))
}

// ShouldSuppressAlert reports whether an alert for (tx, reason) was already
// seen. When it was not, the fingerprint is claimed in the same step, so of
// two concurrent identical calls exactly one returns false. Shared cache and
// store lookups fail open.
func (e *Engine) ShouldSuppressAlert(ctx context.Context, tx *domain.Transaction, reason string) bool {
	fp := Fingerprint(tx, reason)
	if !e.claimLocal(fp) {
		return true
	}

	if e.cache != nil {
		claimed, err := e.cache.SetNX(ctx, "alert:fp:"+fp, []byte(tx.ID), e.cfg.FingerprintTTL)
		if err != nil {
			slog.Warn("fingerprint cache unavailable", "fingerprint", fp, "error", err)
		} else if !claimed {
			return true
		}
	}

	if e.store != nil {
		exists, err := e.store.ExistsByFingerprint(ctx, fp)
		if err != nil {
			slog.Warn("fingerprint lookup failed", "fingerprint", fp, "error", err)
		} else if exists {
			return true
		}
	}

	return false
}

// claimLocal adds fp to the seen set. It returns false when fp is already
// present and has not expired.
func (e *Engine) claimLocal(fp string) bool {
	now := e.now()
	for {
		v, loaded := e.fingerprints.LoadOrStore(fp, now)
		if !loaded {
			e.fingerprintCount.Add(1)
			return true
		}
		seen := v.(time.Time)
		if e.cfg.FingerprintTTL <= 0 || now.Sub(seen) < e.cfg.FingerprintTTL {
			return false
		}
		if e.fingerprints.CompareAndSwap(fp, v, now) {
			return true
		}
	}
}

// IsInCooldown reports whether a cooldown registered for (sender, ruleID) is
// still active.
func (e *Engine) IsInCooldown(sender, ruleID string) bool {
	v, ok := e.cooldowns.Load(CooldownKey(sender, ruleID))
	if !ok {
		return false
	}
	entry := v.(cooldownEntry)
	return e.now().Sub(entry.at) < entry.duration
}

// RegisterCooldown starts a cooldown whose length is inferred from ruleID.
func (e *Engine) RegisterCooldown(sender, ruleID string) {
	e.register(sender, ruleID, e.CooldownFor(ruleID))
}

// RegisterRuleCooldown starts a cooldown for a rule, honoring its class.
func (e *Engine) RegisterRuleCooldown(sender string, rule *domain.Rule) {
	e.register(sender, rule.Description, e.Duration(ClassFor(rule)))
}

func (e *Engine) register(sender, ruleID string, d time.Duration) {
	e.cooldowns.Store(CooldownKey(sender, ruleID), cooldownEntry{at: e.now(), duration: d})
}

// ClearAllCooldowns drops every active cooldown.
func (e *Engine) ClearAllCooldowns() {
	e.cooldowns.Clear()
}

// CooldownStatus returns the remaining time of each active cooldown.
func (e *Engine) CooldownStatus() map[string]time.Duration {
	now := e.now()
	out := make(map[string]time.Duration)
	e.cooldowns.Range(func(k, v any) bool {
		entry := v.(cooldownEntry)
		if remaining := entry.duration - now.Sub(entry.at); remaining > 0 {
			out[k.(string)] = remaining
		}
		return true
	})
	return out
}

// RecordSuppression counts a suppressed alert.
func (e *Engine) RecordSuppression(cause domain.SuppressionCause) {
	switch cause {
	case domain.SuppressedDuplicate:
		e.duplicateSuppressed.Add(1)
	case domain.SuppressedCooldown:
		e.cooldownSuppressed.Add(1)
	}
}

// CreateAlert builds an alert. A positive sanctions result makes it a
// SANCTIONS alert, a rule makes it RULE_MATCH, otherwise it is GENERIC.
func (e *Engine) CreateAlert(tx *domain.Transaction, rule *domain.Rule, reason string, priority int, sanctions *domain.SanctionsMatchResult) *domain.Alert {
	typ := domain.AlertGeneric
	switch {
	case sanctions != nil && sanctions.IsSanctioned:
		typ = domain.AlertSanctions
	case rule != nil:
		typ = domain.AlertRuleMatch
	}

	alert := domain.NewAlert(uuid.New().String(), tx.ID, tx.Sender, typ, reason, priority, e.now().UTC())
	alert.Fingerprint = Fingerprint(tx, reason)
	if rule != nil {
		alert.RuleID = rule.Description
		increment(&e.byRule, rule.Description)
	}
	if typ == domain.AlertSanctions {
		alert.MatchedEntityName = sanctions.MatchedEntityName
		alert.MatchedList = sanctions.MatchedList
		alert.MatchReason = sanctions.MatchReason
	}

	e.totalCreated.Add(1)
	increment(&e.byType, string(typ))
	return alert
}

func increment(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// ProcessAlert persists the alert, records it in the audit trail and hands it
// to review. A persistence failure is logged and reported as false.
func (e *Engine) ProcessAlert(ctx context.Context, alert *domain.Alert) bool {
	if alert == nil {
		return false
	}

	if e.store != nil {
		saved, err := e.store.SaveAlert(ctx, alert)
		if err != nil {
			e.processingFailures.Add(1)
			slog.Error("failed to persist alert",
				"alert_id", alert.ID,
				"tx_id", alert.TxID,
				"error", err,
			)
			return false
		}
		if saved != nil {
			alert = saved
		}
	}

	if e.auditor != nil {
		e.auditor.LogAlert(ctx, alert)
	}
	if e.reviewer != nil {
		e.reviewer.ReviewAlert(ctx, alert)
	}
	return true
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() domain.AlertStats {
	dup := e.duplicateSuppressed.Load()
	cool := e.cooldownSuppressed.Load()

	stats := domain.AlertStats{
		TotalCreated:        e.totalCreated.Load(),
		TotalSuppressed:     dup + cool,
		DuplicateSuppressed: dup,
		CooldownSuppressed:  cool,
		ProcessingFailures:  e.processingFailures.Load(),
		ByType:              snapshot(&e.byType),
		ByRule:              snapshot(&e.byRule),
		ActiveCooldowns:     len(e.CooldownStatus()),
		FingerprintsTracked: e.fingerprintCount.Load(),
	}
	return stats
}

func snapshot(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Prune drops expired cooldowns and fingerprints.
func (e *Engine) Prune() {
	now := e.now()
	e.cooldowns.Range(func(k, v any) bool {
		entry := v.(cooldownEntry)
		if now.Sub(entry.at) >= entry.duration {
			e.cooldowns.CompareAndDelete(k, v)
		}
		return true
	})

	if e.cfg.FingerprintTTL <= 0 {
		return
	}
	e.fingerprints.Range(func(k, v any) bool {
		if now.Sub(v.(time.Time)) >= e.cfg.FingerprintTTL {
			if e.fingerprints.CompareAndDelete(k, v) {
				e.fingerprintCount.Add(-1)
			}
		}
		return true
	})
}

// Run prunes expired state on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Prune()
		}
	}
}
