package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
)

type memStore struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
	err     error
}

func (m *memStore) SaveAuditEntry(_ context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestLogEvent(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store)

	l.LogEvent(context.Background(), EventInvalidInput, "alice", "missing receiver")

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.EventType != "INVALID_INPUT" || e.Actor != "alice" || e.Details != "missing receiver" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestLogAlert(t *testing.T) {
	store := &memStore{}
	l := NewLogger(store)

	alert := domain.NewAlert("a-1", "tx-1", "Ali Mohammed", domain.AlertSanctions, "matched", 100, time.Now().UTC())
	alert.MatchedEntityName = "Ali Mohammed"
	alert.MatchedList = domain.ListLocal

	l.LogAlert(context.Background(), alert)
	l.LogAlert(context.Background(), nil)

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.EventType != string(EventAlertCreated) || e.Actor != "Ali Mohammed" {
		t.Errorf("unexpected entry: %+v", e)
	}

	var rec alertRecord
	if err := json.Unmarshal([]byte(e.Details), &rec); err != nil {
		t.Fatalf("details are not JSON: %v", err)
	}
	if rec.AlertID != "a-1" || rec.PriorityLevel != "HIGH" || rec.MatchedList != domain.ListLocal {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestStoreFailureIsSwallowed(t *testing.T) {
	l := NewLogger(&memStore{err: errors.New("db down")})
	l.LogEvent(context.Background(), EventEvaluationFailed, "bob", "boom")
}

func TestNilStore(t *testing.T) {
	NewLogger(nil).LogEvent(context.Background(), EventTransactionCleared, "bob", "ok")
}

func TestPersistsToRepository(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "audit-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	l := NewLogger(repo)
	l.LogEvent(ctx, EventSanctionsRefresh, SystemActor, "OFAC_SDN ok=true count=10")

	entries, err := repo.ListAuditEntries(ctx, string(EventSanctionsRefresh), 10)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != SystemActor {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
