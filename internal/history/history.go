// Package history provides sender transaction history and frequency lookups.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Store is the persistence the service reads and writes.
type Store interface {
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransactionsBySender(ctx context.Context, sender string, since time.Time) ([]*domain.Transaction, error)
	CountTransactionsBySender(ctx context.Context, sender string, since time.Time) (int, error)
}

// Config holds history windows.
type Config struct {
	FrequencyWindow    time.Duration
	FrequencyThreshold int
	HistoryWindow      time.Duration
}

// Service records transactions and answers history and frequency queries.
// Either the store or the cache may be nil.
type Service struct {
	repo  Store
	cache domain.Cache
	cfg   Config
	now   func() time.Time
}

// NewService creates a new history service.
func NewService(repo Store, cache domain.Cache, cfg Config) *Service {
	if cfg.FrequencyWindow <= 0 {
		cfg.FrequencyWindow = 24 * time.Hour
	}
	if cfg.FrequencyThreshold <= 0 {
		cfg.FrequencyThreshold = 5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30 * 24 * time.Hour
	}
	return &Service{
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		now:   time.Now,
	}
}

func velocityKey(sender string) string {
	return "velocity:" + sender
}

// Record stores the transaction and bumps the sender's counter.
// A counter failure is logged; a store failure is returned.
func (s *Service) Record(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.Sender == "" {
		return fmt.Errorf("transaction with sender is required")
	}

	if s.cache != nil {
		if _, err := s.cache.IncrementCounter(ctx, velocityKey(tx.Sender), s.cfg.FrequencyWindow); err != nil {
			slog.Warn("failed to increment velocity counter", "sender", tx.Sender, "error", err)
		}
	}

	if s.repo != nil {
		if err := s.repo.SaveTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
	}
	return nil
}

// TransactionCount returns how many transactions the sender made within the
// frequency window. The cache counter is preferred; the store is consulted
// when the counter is empty.
func (s *Service) TransactionCount(ctx context.Context, sender string) (int64, error) {
	if sender == "" {
		return 0, fmt.Errorf("sender is required")
	}

	if s.cache != nil {
		count, err := s.cache.Counter(ctx, velocityKey(sender))
		if err == nil && count > 0 {
			return count, nil
		}
		if err != nil {
			slog.Warn("velocity counter unavailable", "sender", sender, "error", err)
		}
	}

	if s.repo != nil {
		since := s.now().Add(-s.cfg.FrequencyWindow)
		count, err := s.repo.CountTransactionsBySender(ctx, sender, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count transactions: %w", err)
		}
		return int64(count), nil
	}

	if s.cache != nil {
		return 0, nil
	}
	return 0, fmt.Errorf("no data source available")
}

// IsFrequentSender reports whether the sender exceeded the frequency threshold.
func (s *Service) IsFrequentSender(ctx context.Context, sender string) (bool, error) {
	count, err := s.TransactionCount(ctx, sender)
	if err != nil {
		return false, err
	}
	return count > int64(s.cfg.FrequencyThreshold), nil
}

// GetHistory returns the sender's transactions within the history window,
// newest first. Without a store the history is empty.
func (s *Service) GetHistory(ctx context.Context, sender string) ([]*domain.Transaction, error) {
	if s.repo == nil {
		return nil, nil
	}
	since := s.now().Add(-s.cfg.HistoryWindow)
	txs, err := s.repo.GetTransactionsBySender(ctx, sender, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txs, nil
}
