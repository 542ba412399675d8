package alerting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStore struct {
	mu      sync.Mutex
	alerts  map[string]*domain.Alert
	known   map[string]bool
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{alerts: make(map[string]*domain.Alert), known: make(map[string]bool)}
}

func (m *memStore) SaveAlert(_ context.Context, a *domain.Alert) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.alerts[a.ID] = a
	return a, nil
}

func (m *memStore) ExistsByFingerprint(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[fp], nil
}

type recorder struct {
	audited  atomic.Int32
	reviewed atomic.Int32
}

func (r *recorder) LogAlert(context.Context, *domain.Alert)    { r.audited.Add(1) }
func (r *recorder) ReviewAlert(context.Context, *domain.Alert) { r.reviewed.Add(1) }

func txn(amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:       "tx-1",
		Sender:   "Alice",
		Receiver: "Bob",
		Amount:   decimal.NewFromInt(amount),
		Currency: "USD",
		Country:  "USA",
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(txn(15000), "Rule matched: High Value Transfer Rule")
	b := Fingerprint(txn(15000), "  rule matched: high value transfer rule ")
	if a != b {
		t.Error("fingerprint should ignore reason case and surrounding space")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}

	other := txn(15000)
	other.ID = "tx-2"
	if Fingerprint(other, "x") != Fingerprint(txn(15000), "x") {
		t.Error("fingerprint must not depend on transaction id")
	}
	if Fingerprint(txn(15001), "x") == Fingerprint(txn(15000), "x") {
		t.Error("different amounts must produce different fingerprints")
	}
}

func TestShouldSuppressAlert(t *testing.T) {
	e := NewEngine(DefaultConfig())
	ctx := context.Background()

	if e.ShouldSuppressAlert(ctx, txn(100), "r") {
		t.Fatal("first sighting must not be suppressed")
	}
	if !e.ShouldSuppressAlert(ctx, txn(100), "r") {
		t.Error("second sighting must be suppressed")
	}
	if e.ShouldSuppressAlert(ctx, txn(200), "r") {
		t.Error("different content must not be suppressed")
	}
	if got := e.Stats().FingerprintsTracked; got != 2 {
		t.Errorf("expected 2 fingerprints, got %d", got)
	}
}

func TestShouldSuppressAlertConcurrent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	ctx := context.Background()

	var passed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !e.ShouldSuppressAlert(ctx, txn(100), "same") {
				passed.Add(1)
			}
		}()
	}
	wg.Wait()

	if passed.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", passed.Load())
	}
}

func TestFingerprintExpiry(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(Config{FingerprintTTL: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	e.ShouldSuppressAlert(ctx, txn(100), "r")
	clock.Advance(59 * time.Minute)
	if !e.ShouldSuppressAlert(ctx, txn(100), "r") {
		t.Error("expected suppression inside TTL")
	}
	clock.Advance(2 * time.Minute)
	if e.ShouldSuppressAlert(ctx, txn(100), "r") {
		t.Error("expected fingerprint to expire after TTL")
	}
}

func TestSharedDedup(t *testing.T) {
	shared := cache.NewLRUCache(100)
	defer shared.Close()
	ctx := context.Background()

	first := NewEngine(DefaultConfig(), WithCache(shared))
	second := NewEngine(DefaultConfig(), WithCache(shared))

	if first.ShouldSuppressAlert(ctx, txn(100), "r") {
		t.Fatal("first engine should claim the fingerprint")
	}
	if !second.ShouldSuppressAlert(ctx, txn(100), "r") {
		t.Error("second engine should see the shared claim")
	}
}

func TestDurableDedup(t *testing.T) {
	store := newMemStore()
	store.known[Fingerprint(txn(100), "r")] = true
	e := NewEngine(DefaultConfig(), WithStore(store))

	if !e.ShouldSuppressAlert(context.Background(), txn(100), "r") {
		t.Error("expected suppression for a persisted fingerprint")
	}
}

func TestCooldownDurations(t *testing.T) {
	e := NewEngine(DefaultConfig())

	tests := []struct {
		ruleID string
		want   time.Duration
	}{
		{"Sanctions Screening", 30 * time.Minute},
		{"High Value Transfer Rule", 5 * time.Minute},
		{"Priority Review", 5 * time.Minute},
		{"Low Value Routine Transfer", 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.ruleID, func(t *testing.T) {
			if got := e.CooldownFor(tt.ruleID); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCooldownLifecycle(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultConfig(), WithClock(clock.Now))

	if e.IsInCooldown("alice", "Medium Risk Region Transfer") {
		t.Fatal("no cooldown registered yet")
	}

	e.RegisterCooldown("alice", "Medium Risk Region Transfer")
	if !e.IsInCooldown("alice", "Medium Risk Region Transfer") {
		t.Fatal("cooldown must be active immediately")
	}
	if e.IsInCooldown("bob", "Medium Risk Region Transfer") {
		t.Error("cooldown is per sender")
	}

	clock.Advance(9*time.Minute + 59*time.Second)
	if !e.IsInCooldown("alice", "Medium Risk Region Transfer") {
		t.Error("cooldown must hold until the window elapses")
	}

	clock.Advance(time.Second)
	if e.IsInCooldown("alice", "Medium Risk Region Transfer") {
		t.Error("cooldown must expire after 10 minutes")
	}
}

func TestExplicitCooldownClass(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultConfig(), WithClock(clock.Now))

	rule := &domain.Rule{Description: "High Value Transfer Rule", Cooldown: domain.CooldownSanctions}
	e.RegisterRuleCooldown("alice", rule)

	clock.Advance(29 * time.Minute)
	if !e.IsInCooldown("alice", rule.Description) {
		t.Error("explicit sanctions class should hold for 30 minutes")
	}

	inferred := &domain.Rule{Description: "High Value Transfer Rule"}
	if ClassFor(inferred) != domain.CooldownHigh {
		t.Errorf("expected inferred high class, got %s", ClassFor(inferred))
	}
}

func TestClearAndStatus(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(DefaultConfig(), WithClock(clock.Now))

	e.RegisterCooldown("alice", "rule")
	e.RegisterCooldown("bob", "sanctions")

	status := e.CooldownStatus()
	if len(status) != 2 {
		t.Fatalf("expected 2 cooldowns, got %d", len(status))
	}
	if status["bob|sanctions"] != 30*time.Minute {
		t.Errorf("unexpected remaining time: %s", status["bob|sanctions"])
	}

	e.ClearAllCooldowns()
	if e.IsInCooldown("alice", "rule") || len(e.CooldownStatus()) != 0 {
		t.Error("cooldowns not cleared")
	}
}

func TestCreateAlert(t *testing.T) {
	e := NewEngine(DefaultConfig())
	rule := &domain.Rule{Description: "High Value Transfer Rule", Sensitivity: domain.SensitivityHigh}

	t.Run("RuleMatch", func(t *testing.T) {
		a := e.CreateAlert(txn(15000), rule, "Rule matched: High Value Transfer Rule", 45, nil)
		if a.Type != domain.AlertRuleMatch || a.RuleID != rule.Description {
			t.Errorf("unexpected alert: %+v", a)
		}
		if a.PriorityLevel != domain.LevelLow || a.ID == "" || a.Fingerprint == "" {
			t.Errorf("unexpected alert fields: %+v", a)
		}
	})

	t.Run("Sanctions", func(t *testing.T) {
		match := domain.SanctionsMatchResult{
			IsSanctioned:      true,
			MatchedEntityName: "Ali Mohammed",
			MatchedList:       domain.ListLocal,
			MatchReason:       "Exact name match",
		}
		a := e.CreateAlert(txn(50000), nil, match.FormattedReason(), 100, &match)
		if a.Type != domain.AlertSanctions || a.PriorityLevel != domain.LevelHigh {
			t.Errorf("unexpected alert: %+v", a)
		}
		if a.MatchedEntityName != "Ali Mohammed" || a.MatchedList != domain.ListLocal {
			t.Errorf("sanctions fields missing: %+v", a)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		if a := e.CreateAlert(txn(1), nil, "x", 250, nil); a.PriorityScore != 100 || a.Type != domain.AlertGeneric {
			t.Errorf("unexpected alert: %+v", a)
		}
		if a := e.CreateAlert(txn(1), nil, "x", -5, nil); a.PriorityScore != 0 {
			t.Errorf("expected clamp to 0, got %d", a.PriorityScore)
		}
	})

	stats := e.Stats()
	if stats.TotalCreated != 4 {
		t.Errorf("expected 4 created, got %d", stats.TotalCreated)
	}
	if stats.ByType["RULE_MATCH"] != 1 || stats.ByType["SANCTIONS"] != 1 || stats.ByType["GENERIC"] != 2 {
		t.Errorf("unexpected by-type counts: %v", stats.ByType)
	}
	if stats.ByRule[rule.Description] != 1 {
		t.Errorf("unexpected by-rule counts: %v", stats.ByRule)
	}
}

func TestProcessAlert(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		store := newMemStore()
		rec := &recorder{}
		e := NewEngine(DefaultConfig(), WithStore(store), WithAuditor(rec), WithReviewer(rec))

		a := e.CreateAlert(txn(100), nil, "x", 10, nil)
		if !e.ProcessAlert(context.Background(), a) {
			t.Fatal("expected success")
		}
		if _, ok := store.alerts[a.ID]; !ok {
			t.Error("alert not persisted")
		}
		if rec.audited.Load() != 1 || rec.reviewed.Load() != 1 {
			t.Error("audit and review must both run")
		}
	})

	t.Run("PersistenceFailure", func(t *testing.T) {
		store := newMemStore()
		store.saveErr = errors.New("db down")
		rec := &recorder{}
		e := NewEngine(DefaultConfig(), WithStore(store), WithAuditor(rec), WithReviewer(rec))

		if e.ProcessAlert(context.Background(), e.CreateAlert(txn(100), nil, "x", 10, nil)) {
			t.Fatal("expected failure")
		}
		if rec.reviewed.Load() != 0 {
			t.Error("review must not run after a persistence failure")
		}
		if e.Stats().ProcessingFailures != 1 {
			t.Errorf("expected 1 failure, got %d", e.Stats().ProcessingFailures)
		}
	})

	t.Run("Nil", func(t *testing.T) {
		if NewEngine(DefaultConfig()).ProcessAlert(context.Background(), nil) {
			t.Error("nil alert must not process")
		}
	})
}

func TestSuppressionStats(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.RecordSuppression(domain.SuppressedDuplicate)
	e.RecordSuppression(domain.SuppressedDuplicate)
	e.RecordSuppression(domain.SuppressedCooldown)

	s := e.Stats()
	if s.TotalSuppressed != 3 || s.DuplicateSuppressed != 2 || s.CooldownSuppressed != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestPrune(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(Config{FingerprintTTL: time.Hour}, WithClock(clock.Now))
	ctx := context.Background()

	e.RegisterCooldown("alice", "rule")
	e.ShouldSuppressAlert(ctx, txn(100), "r")

	clock.Advance(2 * time.Hour)
	e.Prune()

	if len(e.CooldownStatus()) != 0 {
		t.Error("expired cooldown should be pruned")
	}
	if e.Stats().FingerprintsTracked != 0 {
		t.Errorf("expected 0 fingerprints, got %d", e.Stats().FingerprintsTracked)
	}
}
