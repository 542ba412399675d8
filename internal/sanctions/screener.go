package sanctions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

const snapshotKey = "sanctions:feed"

// snapshot is the cached form of the last good dataset.
type snapshot struct {
	FetchedAt time.Time                 `json:"fetchedAt"`
	Entities  []domain.SanctionedEntity `json:"entities"`
}

// Feed fetches a full sanctioned-entity dataset from a remote source.
type Feed interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.SanctionedEntity, error)
}

// ScreenerConfig configures a Screener.
type ScreenerConfig struct {
	Threshold    float64
	FetchTimeout time.Duration

	// Cache keeps the last good dataset for warm starts. Optional.
	Cache       domain.Cache
	SnapshotTTL time.Duration

	// OnRefresh is called after every refresh attempt. Optional.
	OnRefresh func(source string, ok bool, count int)
}

// Screener matches names against a periodically refreshed feed. Queries read
// an immutable index; a refresh builds a new one and swaps it atomically.
type Screener struct {
	feed        Feed
	cfg         ScreenerConfig
	index       atomic.Pointer[Index]
	lastRefresh atomic.Int64
	refreshing  atomic.Bool
}

// NewScreener creates a screener with an empty index.
func NewScreener(feed Feed, cfg ScreenerConfig) *Screener {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultFuzzyThreshold
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 7 * 24 * time.Hour
	}
	s := &Screener{feed: feed, cfg: cfg}
	s.index.Store(NewIndex(nil))
	return s
}

func (s *Screener) source() string {
	if s.feed == nil {
		return "static"
	}
	return s.feed.Name()
}

// Replace swaps in a new dataset directly.
func (s *Screener) Replace(entities []domain.SanctionedEntity) {
	s.swap(entities, time.Now())
}

func (s *Screener) swap(entities []domain.SanctionedEntity, fetchedAt time.Time) {
	s.index.Store(NewIndex(entities))
	if fetchedAt.IsZero() {
		s.lastRefresh.Store(0)
		return
	}
	s.lastRefresh.Store(fetchedAt.UnixNano())
}

// Refresh fetches the feed and swaps the index. On any failure the current
// index is kept and false is returned. A refresh already in flight also
// returns false.
func (s *Screener) Refresh(ctx context.Context) bool {
	if s.feed == nil {
		return false
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		slog.Debug("sanctions refresh already in progress", "source", s.source())
		return false
	}
	defer s.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	entities, err := s.feed.Fetch(ctx)
	if err == nil && len(entities) == 0 {
		err = errors.New("feed returned no entities")
	}
	if err != nil {
		slog.Warn("sanctions refresh failed, keeping previous list",
			"source", s.source(),
			"cached_entities", s.Count(),
			"error", err,
		)
		s.notify(false, s.Count())
		return false
	}

	fetchedAt := time.Now()
	s.swap(entities, fetchedAt)

	slog.Info("sanctions list refreshed",
		"source", s.source(),
		"entities", len(entities),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	s.saveSnapshot(ctx, snapshot{FetchedAt: fetchedAt, Entities: entities})
	s.notify(true, len(entities))
	return true
}

func (s *Screener) notify(ok bool, count int) {
	if s.cfg.OnRefresh != nil {
		s.cfg.OnRefresh(s.source(), ok, count)
	}
}

func (s *Screener) saveSnapshot(ctx context.Context, snap snapshot) {
	if s.cfg.Cache == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("failed to encode sanctions snapshot", "error", err)
		return
	}
	if err := s.cfg.Cache.Set(ctx, snapshotKey, data, s.cfg.SnapshotTTL); err != nil {
		slog.Warn("failed to store sanctions snapshot", "error", err)
	}
}

// Warm loads the last good dataset from the cache when the index is empty.
// The refresh time is the snapshot's original fetch time, not now.
func (s *Screener) Warm(ctx context.Context) (bool, error) {
	if s.cfg.Cache == nil || s.Count() > 0 {
		return false, nil
	}
	data, err := s.cfg.Cache.Get(ctx, snapshotKey)
	if err != nil {
		return false, fmt.Errorf("failed to read sanctions snapshot: %w", err)
	}
	if data == nil {
		return false, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("failed to decode sanctions snapshot: %w", err)
	}
	if len(snap.Entities) == 0 {
		return false, nil
	}
	s.swap(snap.Entities, snap.FetchedAt)
	return true, nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (s *Screener) Run(ctx context.Context, interval time.Duration) {
	if s.feed == nil {
		return
	}
	s.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Match runs the matching algorithm against the current index.
func (s *Screener) Match(name, country string) (domain.SanctionsMatchResult, bool) {
	m, ok := s.index.Load().Lookup(name, country, s.cfg.Threshold)
	if !ok {
		return domain.NoSanctionsMatch(), false
	}
	return matchResult(m), true
}

func matchResult(m Match) domain.SanctionsMatchResult {
	reason := "Exact name match"
	confidence := 1.0
	switch m.Kind {
	case MatchPartial:
		reason = "Partial name match"
		confidence = m.Similarity
	case MatchFuzzy:
		reason = fmt.Sprintf("Fuzzy name match (similarity %.2f)", m.Similarity)
		confidence = m.Similarity
	case MatchCountryPartial:
		reason = "Partial name match within country"
		confidence = m.Similarity
	}
	if m.Entity.Program != "" {
		reason += ", program " + m.Entity.Program
	}
	return domain.SanctionsMatchResult{
		IsSanctioned:      true,
		MatchedEntityName: m.Entity.Name,
		MatchedCountry:    m.Entity.Country,
		MatchedList:       domain.ListOFAC,
		MatchReason:       reason,
		ConfidenceScore:   confidence,
	}
}

// IsSanctioned reports whether name matches the feed by any step.
func (s *Screener) IsSanctioned(name, country string) bool {
	_, ok := s.Match(name, country)
	return ok
}

// IsSanctionedFuzzy reports a fuzzy hit at the given threshold.
func (s *Screener) IsSanctionedFuzzy(name string, threshold float64) bool {
	_, ok := s.index.Load().Fuzzy(name, threshold)
	return ok
}

// Search filters feed entities by name substring and country.
func (s *Screener) Search(name, country string) []domain.SanctionedEntity {
	return s.index.Load().Search(name, country)
}

// Count returns the number of cached entities.
func (s *Screener) Count() int {
	return s.index.Load().Len()
}

// LastRefreshTime returns when the index was last replaced, zero if never.
func (s *Screener) LastRefreshTime() time.Time {
	n := s.lastRefresh.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Status reports the cache state.
func (s *Screener) Status() domain.SanctionsStatus {
	return domain.SanctionsStatus{
		Source:      s.source(),
		Count:       s.Count(),
		LastRefresh: s.LastRefreshTime(),
		Refreshing:  s.refreshing.Load(),
	}
}
