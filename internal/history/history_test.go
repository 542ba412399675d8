package history

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "history-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTx(id, sender string, amount int64, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		Sender:    sender,
		Receiver:  "Bob",
		Amount:    decimal.NewFromInt(amount),
		Currency:  "USD",
		Country:   "USA",
		Timestamp: ts,
	}
}

func TestHistoryService(t *testing.T) {
	repo := newTestRepo(t)
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(repo, lru, Config{FrequencyWindow: time.Hour, FrequencyThreshold: 3, HistoryWindow: 24 * time.Hour})
	ctx := context.Background()

	t.Run("EmptyHistory", func(t *testing.T) {
		count, err := svc.TransactionCount(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0, got %d", count)
		}

		txs, err := svc.GetHistory(ctx, "alice")
		if err != nil || len(txs) != 0 {
			t.Errorf("expected empty history, got %d (%v)", len(txs), err)
		}
	})

	t.Run("RecordAndCount", func(t *testing.T) {
		now := time.Now().UTC()
		for i := 0; i < 4; i++ {
			if err := svc.Record(ctx, newTx(fmt.Sprintf("tx-%d", i), "alice", 100, now)); err != nil {
				t.Fatalf("record failed: %v", err)
			}
		}

		count, err := svc.TransactionCount(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 4 {
			t.Errorf("expected 4, got %d", count)
		}

		frequent, err := svc.IsFrequentSender(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !frequent {
			t.Error("expected alice to be frequent above threshold 3")
		}

		txs, err := svc.GetHistory(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 4 {
			t.Errorf("expected 4 transactions, got %d", len(txs))
		}
	})

	t.Run("IsolatedSenders", func(t *testing.T) {
		frequent, err := svc.IsFrequentSender(ctx, "carol")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frequent {
			t.Error("carol has no transactions")
		}
	})

	t.Run("MissingSender", func(t *testing.T) {
		if err := svc.Record(ctx, newTx("tx-x", "", 1, time.Now())); err == nil {
			t.Error("expected error for missing sender")
		}
	})
}

func TestHistoryWindow(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil, Config{FrequencyWindow: time.Hour, HistoryWindow: 48 * time.Hour})
	ctx := context.Background()

	now := time.Now().UTC()
	_ = svc.Record(ctx, newTx("recent", "dave", 10, now.Add(-10*time.Minute)))
	_ = svc.Record(ctx, newTx("yesterday", "dave", 10, now.Add(-20*time.Hour)))
	_ = svc.Record(ctx, newTx("old", "dave", 10, now.Add(-72*time.Hour)))

	count, err := svc.TransactionCount(ctx, "dave")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 in frequency window, got %d", count)
	}

	txs, err := svc.GetHistory(ctx, "dave")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("expected 2 in history window, got %d", len(txs))
	}
	if txs[0].ID != "recent" {
		t.Errorf("expected newest first, got %s", txs[0].ID)
	}
}

func TestHistoryNoSources(t *testing.T) {
	svc := NewService(nil, nil, Config{})
	if _, err := svc.TransactionCount(context.Background(), "x"); err == nil {
		t.Error("expected error with no data source")
	}
	txs, err := svc.GetHistory(context.Background(), "x")
	if err != nil || txs != nil {
		t.Errorf("expected nil history, got %v %v", txs, err)
	}
}
