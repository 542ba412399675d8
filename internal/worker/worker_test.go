package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

type stubEvaluator struct {
	mu  sync.Mutex
	txs []*domain.Transaction
}

func (s *stubEvaluator) Evaluate(ctx context.Context, tx *domain.Transaction) domain.IngestionResult {
	s.mu.Lock()
	s.txs = append(s.txs, tx)
	s.mu.Unlock()
	return domain.IngestionResult{
		TxID:           tx.ID,
		Status:         domain.StatusSuccess,
		AlertGenerated: tx.Amount.GreaterThan(decimal.NewFromInt(10000)),
	}
}

func (s *stubEvaluator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &stubEvaluator{})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("expected topic %s, got %s", domain.TopicTransactionIngested, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if got := w.GetStats().SubscriptionCount; got != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", got)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		eval := &stubEvaluator{}
		w := NewWorker(eventBus, eval)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		decisions := make(chan []byte, 1)
		sub, err := eventBus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			decisions <- msg.Payload
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		req := domain.TransactionRequest{
			ID:       "tx-001",
			Sender:   "Alice",
			Receiver: "Bob",
			Amount:   decimal.NewFromInt(15000),
			Currency: "usd",
			Country:  "USA",
		}
		payload, _ := json.Marshal(req)
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case raw := <-decisions:
			var result domain.IngestionResult
			if err := json.Unmarshal(raw, &result); err != nil {
				t.Fatalf("failed to parse decision: %v", err)
			}
			if result.TxID != "tx-001" {
				t.Errorf("expected txID 'tx-001', got '%s'", result.TxID)
			}
			if !result.AlertGenerated {
				t.Error("expected alert flag to be carried through")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected decision to be published")
		}

		if eval.txs[0].Currency != "USD" {
			t.Errorf("expected normalized currency USD, got %s", eval.txs[0].Currency)
		}
		if got := w.GetStats().Processed; got != 1 {
			t.Errorf("expected 1 processed, got %d", got)
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		eval := &stubEvaluator{}
		w := NewWorker(eventBus, eval)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, []byte("{not json"))

		waitFor(t, func() bool { return w.GetStats().Failed == 1 })
		if eval.count() != 0 {
			t.Errorf("expected no evaluations, got %d", eval.count())
		}
	})
}
