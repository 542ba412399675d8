// Package behavior flags transactions that deviate from a sender's history.
package behavior

import (
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Detector compares a transaction against the sender's past transactions.
//
// FrequencyThreshold is a count over the supplied history, not a time-windowed
// rate; the caller controls the window when fetching history.
type Detector struct {
	Multiplier         decimal.Decimal
	FrequencyThreshold int
}

// NewDetector returns a detector with the default 2x multiplier and a
// threshold of five historical transactions.
func NewDetector() *Detector {
	return &Detector{
		Multiplier:         decimal.NewFromInt(2),
		FrequencyThreshold: 5,
	}
}

// Deviation describes why a transaction was flagged.
type Deviation struct {
	Mean          decimal.Decimal `json:"mean"`
	AmountSpike   bool            `json:"amountSpike"`
	HighActivity  bool            `json:"highActivity"`
	HistoryLength int             `json:"historyLength"`
}

// Flagged reports whether any deviation applied.
func (d Deviation) Flagged() bool {
	return d.AmountSpike || d.HighActivity
}

// Analyze computes the deviation of tx against history. An empty history
// never deviates.
func (d *Detector) Analyze(tx *domain.Transaction, history []*domain.Transaction) Deviation {
	dev := Deviation{HistoryLength: len(history)}
	if tx == nil || len(history) == 0 {
		return dev
	}

	sum := decimal.Zero
	for _, h := range history {
		sum = sum.Add(h.Amount)
	}
	dev.Mean = sum.Div(decimal.NewFromInt(int64(len(history))))

	dev.AmountSpike = tx.Amount.GreaterThan(dev.Mean.Mul(d.Multiplier))
	dev.HighActivity = len(history) > d.FrequencyThreshold
	return dev
}

// DetectDeviations reports whether tx is abnormal for its sender.
func (d *Detector) DetectDeviations(tx *domain.Transaction, history []*domain.Transaction) bool {
	return d.Analyze(tx, history).Flagged()
}
