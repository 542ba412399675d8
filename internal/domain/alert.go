package domain

import (
	"time"
)

// AlertType classifies the origin of an alert.
type AlertType string

const (
	AlertSanctions  AlertType = "SANCTIONS"
	AlertRuleMatch  AlertType = "RULE_MATCH"
	AlertBehavioral AlertType = "BEHAVIORAL"
	AlertGeneric    AlertType = "GENERIC"
)

// Priority level thresholds for alerts.
const (
	PriorityHighThreshold   = 80
	PriorityMediumThreshold = 50
)

// PriorityLevelFor maps a priority score to its level.
func PriorityLevelFor(score int) Level {
	switch {
	case score >= PriorityHighThreshold:
		return LevelHigh
	case score >= PriorityMediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Alert is a compliance alert raised for a transaction.
// Use NewAlert so the priority level always agrees with the score.
type Alert struct {
	ID            string    `json:"id"`
	TxID          string    `json:"txId"`
	Sender        string    `json:"sender"`
	Type          AlertType `json:"type"`
	Reason        string    `json:"reason"`
	PriorityScore int       `json:"priorityScore"`
	PriorityLevel Level     `json:"priorityLevel"`
	RuleID        string    `json:"ruleId,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	// Set for sanctions alerts.
	MatchedEntityName string `json:"matchedEntityName,omitempty"`
	MatchedList       string `json:"matchedList,omitempty"`
	MatchReason       string `json:"matchReason,omitempty"`
}

// NewAlert builds an alert with a clamped score and derived level.
func NewAlert(id, txID, sender string, typ AlertType, reason string, priority int, ts time.Time) *Alert {
	p := ClampScore(priority)
	return &Alert{
		ID:            id,
		TxID:          txID,
		Sender:        sender,
		Type:          typ,
		Reason:        reason,
		PriorityScore: p,
		PriorityLevel: PriorityLevelFor(p),
		Timestamp:     ts,
	}
}
