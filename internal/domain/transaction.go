package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Level is a three-step risk or priority classification.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Risk level thresholds. These differ from the alert priority thresholds on purpose.
const (
	RiskHighThreshold   = 75
	RiskMediumThreshold = 40
)

// RiskLevelFor maps a risk score to its level.
func RiskLevelFor(score int) Level {
	switch {
	case score >= RiskHighThreshold:
		return LevelHigh
	case score >= RiskMediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ManualFlagKey is the metadata key carrying a manual-review flag.
const ManualFlagKey = "flagged"

// Transaction represents an incoming transaction to be evaluated.
type Transaction struct {
	ID string `json:"id"`

	// Parties involved
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`

	// Financial details
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Country  string          `json:"country"`

	// DOB disambiguates the sender against sanctioned entities that share a name.
	DOB string `json:"dob,omitempty"`

	// Assigned by the pipeline.
	RiskLevel Level `json:"riskLevel,omitempty"`

	// FrequentSender is set from the sender's velocity before rules run.
	FrequentSender bool `json:"-"`

	Metadata map[string]string `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the required fields. It returns an *InvalidInputError naming
// the first offending field.
func (t *Transaction) Validate() error {
	if t == nil {
		return &InvalidInputError{Field: "transaction"}
	}
	switch {
	case strings.TrimSpace(t.Sender) == "":
		return &InvalidInputError{Field: "sender"}
	case strings.TrimSpace(t.Receiver) == "":
		return &InvalidInputError{Field: "receiver"}
	case strings.TrimSpace(t.Currency) == "":
		return &InvalidInputError{Field: "currency"}
	case strings.TrimSpace(t.Country) == "":
		return &InvalidInputError{Field: "country"}
	case !t.Amount.IsPositive():
		return &InvalidInputError{Field: "amount"}
	}
	return nil
}

// HasManualFlag reports whether the metadata carries a manual-review flag.
// The key is matched case-insensitively.
func (t *Transaction) HasManualFlag() bool {
	for k, v := range t.Metadata {
		if !strings.EqualFold(k, ManualFlagKey) {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}

// TransactionRequest is the API request payload for transaction evaluation.
type TransactionRequest struct {
	ID       string            `json:"id,omitempty"`
	Sender   string            `json:"sender"`
	Receiver string            `json:"receiver"`
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency"`
	Country  string            `json:"country"`
	DOB      string            `json:"dob,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		ID:        r.ID,
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		Amount:    r.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(r.Currency)),
		Country:   r.Country,
		DOB:       r.DOB,
		Metadata:  r.Metadata,
		Timestamp: time.Now().UTC(),
	}
}
