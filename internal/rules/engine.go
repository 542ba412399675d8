package rules

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Engine is the rule registry. Reads work on an immutable snapshot and never
// block; writers are serialized and publish a fresh slice.
type Engine struct {
	mu    sync.Mutex
	rules atomic.Pointer[[]*domain.Rule]
}

// NewEngine creates an engine holding the given rules in order.
func NewEngine(rules ...*domain.Rule) *Engine {
	e := &Engine{}
	snapshot := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			snapshot = append(snapshot, r)
		}
	}
	e.rules.Store(&snapshot)
	return e
}

// GetActiveRules returns the current snapshot in registry order. Callers must
// not modify the returned slice or its rules.
func (e *Engine) GetActiveRules() []*domain.Rule {
	return *e.rules.Load()
}

// RulesCount returns the number of registered rules.
func (e *Engine) RulesCount() int {
	return len(*e.rules.Load())
}

// ApplyRule evaluates a single rule. A rule without a condition never matches.
func (e *Engine) ApplyRule(tx *domain.Transaction, rule *domain.Rule, amount decimal.Decimal) bool {
	if tx == nil || rule == nil || rule.Condition == nil {
		return false
	}
	return rule.Condition(tx, amount)
}

// AddRule registers a rule, replacing any rule with the same description.
func (e *Engine) AddRule(rule *domain.Rule) error {
	if rule == nil || strings.TrimSpace(rule.Description) == "" {
		return fmt.Errorf("rule description is required")
	}
	if rule.Condition == nil {
		return fmt.Errorf("rule %q has no condition", rule.Description)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.rules.Load()
	next := make([]*domain.Rule, 0, len(current)+1)
	replaced := false
	for _, r := range current {
		if r.Description == rule.Description {
			next = append(next, rule)
			replaced = true
			continue
		}
		next = append(next, r)
	}
	if !replaced {
		next = append(next, rule)
	}
	e.rules.Store(&next)
	return nil
}

// RemoveRule unregisters the rule with the given description.
func (e *Engine) RemoveRule(description string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.rules.Load()
	next := make([]*domain.Rule, 0, len(current))
	for _, r := range current {
		if r.Description != description {
			next = append(next, r)
		}
	}
	if len(next) == len(current) {
		return false
	}
	e.rules.Store(&next)
	return true
}

// ReloadRules atomically swaps the whole registry.
func (e *Engine) ReloadRules(rules []*domain.Rule) {
	next := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.Condition != nil {
			next = append(next, r)
		}
	}

	e.mu.Lock()
	e.rules.Store(&next)
	e.mu.Unlock()
}

// Match evaluates every active rule against tx and returns the matches in
// registry order.
func (e *Engine) Match(tx *domain.Transaction) []*domain.Rule {
	var matched []*domain.Rule
	for _, r := range e.GetActiveRules() {
		if e.ApplyRule(tx, r, tx.Amount) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Primary returns the highest-sensitivity rule. Ties go to the earliest rule.
func Primary(matched []*domain.Rule) *domain.Rule {
	var best *domain.Rule
	for _, r := range matched {
		if best == nil || r.Sensitivity.Weight() > best.Sensitivity.Weight() {
			best = r
		}
	}
	return best
}

// Descriptions lists rule descriptions in order.
func Descriptions(rules []*domain.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Description
	}
	return out
}
