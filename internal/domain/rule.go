package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sensitivity is a rule's risk classification.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "LOW"
	SensitivityMedium Sensitivity = "MEDIUM"
	SensitivityHigh   Sensitivity = "HIGH"
)

// ParseSensitivity parses a case-insensitive sensitivity name.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch Sensitivity(strings.ToUpper(strings.TrimSpace(s))) {
	case SensitivityLow:
		return SensitivityLow, nil
	case SensitivityMedium:
		return SensitivityMedium, nil
	case SensitivityHigh:
		return SensitivityHigh, nil
	}
	return "", fmt.Errorf("unknown sensitivity %q", s)
}

// Weight orders sensitivities for primary rule selection.
func (s Sensitivity) Weight() int {
	switch s {
	case SensitivityHigh:
		return 3
	case SensitivityMedium:
		return 2
	case SensitivityLow:
		return 1
	}
	return 0
}

// ScoreAdjustment is the number of points a matched rule adds to a score.
func (s Sensitivity) ScoreAdjustment() int {
	switch s {
	case SensitivityHigh:
		return 20
	case SensitivityMedium:
		return 10
	case SensitivityLow:
		return 5
	}
	return 0
}

// Condition decides whether a rule matches. It must not mutate the transaction.
type Condition func(tx *Transaction, amount decimal.Decimal) bool

// CooldownClass selects the suppression window applied after a rule alert.
type CooldownClass string

const (
	CooldownSanctions CooldownClass = "sanctions"
	CooldownHigh      CooldownClass = "high"
	CooldownDefault   CooldownClass = "default"
)

// Rule is a named condition with metadata. Description is the unique key.
type Rule struct {
	Description string        `json:"description"`
	Sensitivity Sensitivity   `json:"sensitivity"`
	Tags        []string      `json:"tags,omitempty"`
	Type        string        `json:"type,omitempty"`
	Cooldown    CooldownClass `json:"cooldownClass,omitempty"`
	Condition   Condition     `json:"-"`
}

// HasTag reports whether the rule carries the given tag.
func (r *Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// RuleDefinition is the structured record a rule is loaded from.
type RuleDefinition struct {
	Description string        `json:"description" yaml:"description"`
	Sensitivity string        `json:"sensitivity" yaml:"sensitivity"`
	Tags        []string      `json:"tags" yaml:"tags"`
	Type        string        `json:"type" yaml:"type"`
	Cooldown    CooldownClass `json:"cooldownClass,omitempty" yaml:"cooldownClass,omitempty"`
}
