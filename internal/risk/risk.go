// Package risk computes bounded transaction risk scores.
package risk

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Points per factor and priority bonuses.
const (
	FactorPoints         = 25
	ManualFlagBonus      = 10
	HighRiskCountryBonus = 5
)

// CountryChecker reports high-risk jurisdictions.
type CountryChecker interface {
	IsHighRiskCountry(country string) bool
	HighRiskCountries() []string
}

// FrequencyChecker reports senders with unusually many recent transactions.
type FrequencyChecker interface {
	IsFrequentSender(ctx context.Context, sender string) (bool, error)
}

// Factors lists which score components applied.
type Factors struct {
	HighAmount      bool `json:"highAmount"`
	HighRiskCountry bool `json:"highRiskCountry"`
	FrequentSender  bool `json:"frequentSender"`
	ManualFlag      bool `json:"manualFlag"`
}

// Score sums the factor points, clamped to [0,100].
func (f Factors) Score() int {
	score := 0
	for _, on := range []bool{f.HighAmount, f.HighRiskCountry, f.FrequentSender, f.ManualFlag} {
		if on {
			score += FactorPoints
		}
	}
	return domain.ClampScore(score)
}

// Scorer is the risk scoring engine. Either checker may be nil.
type Scorer struct {
	threshold decimal.Decimal
	countries CountryChecker
	frequency FrequencyChecker
}

// NewScorer creates a scorer. A non-positive threshold defaults to 100000.
func NewScorer(threshold decimal.Decimal, countries CountryChecker, frequency FrequencyChecker) *Scorer {
	if !threshold.IsPositive() {
		threshold = decimal.NewFromInt(100000)
	}
	return &Scorer{threshold: threshold, countries: countries, frequency: frequency}
}

// Factors evaluates each score component. A frequency lookup failure counts
// as not frequent.
func (s *Scorer) Factors(ctx context.Context, tx *domain.Transaction) Factors {
	f := Factors{
		HighAmount: tx.Amount.GreaterThanOrEqual(s.threshold),
		ManualFlag: tx.HasManualFlag(),
	}
	if s.countries != nil {
		f.HighRiskCountry = s.countries.IsHighRiskCountry(tx.Country)
	}
	if s.frequency != nil {
		frequent, err := s.frequency.IsFrequentSender(ctx, tx.Sender)
		if err != nil {
			slog.Warn("frequency lookup failed", "sender", tx.Sender, "error", err)
		}
		f.FrequentSender = frequent
	}
	return f
}

// Score computes the base risk score.
func (s *Scorer) Score(ctx context.Context, tx *domain.Transaction) int {
	return s.Factors(ctx, tx).Score()
}

// ScoreWithRule adds the matched rule's sensitivity adjustment before clamping.
func (s *Scorer) ScoreWithRule(ctx context.Context, tx *domain.Transaction, rule *domain.Rule) int {
	score := s.Factors(ctx, tx).Score()
	if rule != nil {
		score += rule.Sensitivity.ScoreAdjustment()
	}
	return domain.ClampScore(score)
}

// AssessRisk maps the base score to a level.
func (s *Scorer) AssessRisk(ctx context.Context, tx *domain.Transaction) domain.Level {
	return domain.RiskLevelFor(s.Score(ctx, tx))
}

// HighRiskCountries returns the configured high-risk set.
func (s *Scorer) HighRiskCountries() []string {
	if s.countries == nil {
		return nil
	}
	return s.countries.HighRiskCountries()
}

// Priority derives an alert priority from a base risk score and the primary rule.
func Priority(riskScore int, rule *domain.Rule, f Factors) int {
	p := riskScore
	if rule != nil {
		p += rule.Sensitivity.ScoreAdjustment()
	}
	if f.ManualFlag {
		p += ManualFlagBonus
	}
	if f.HighRiskCountry {
		p += HighRiskCountryBonus
	}
	return domain.ClampScore(p)
}
