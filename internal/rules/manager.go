package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/opensource-finance/heron/internal/domain"
)

// DefinitionStore persists operator-defined rules.
type DefinitionStore interface {
	SaveRuleDefinition(ctx context.Context, def *domain.RuleDefinition) error
	ListRuleDefinitions(ctx context.Context) ([]*domain.RuleDefinition, error)
	DeleteRuleDefinition(ctx context.Context, description string) error
}

// ManagerConfig selects the definition sources.
type ManagerConfig struct {
	Builtin         bool
	DefinitionsPath string
}

// Manager keeps the engine in sync with built-in, file and stored definitions.
// Later sources override earlier ones by description.
type Manager struct {
	engine *Engine
	loader *Loader
	store  DefinitionStore
	cfg    ManagerConfig

	mu    sync.RWMutex
	fixed map[string]bool // built-in and file descriptions from the last reload
}

// NewManager creates a manager. store may be nil.
func NewManager(engine *Engine, loader *Loader, store DefinitionStore, cfg ManagerConfig) *Manager {
	return &Manager{engine: engine, loader: loader, store: store, cfg: cfg, fixed: map[string]bool{}}
}

// Engine returns the managed engine.
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Reload rebuilds the registry from every source and swaps it in. Invalid
// definitions are skipped and reported.
func (m *Manager) Reload(ctx context.Context) (int, []error) {
	var (
		defs []domain.RuleDefinition
		errs []error
	)

	if m.cfg.Builtin {
		defs = append(defs, BuiltinDefinitions()...)
	}

	if m.cfg.DefinitionsPath != "" {
		file, err := LoadDefinitionsFile(m.cfg.DefinitionsPath)
		if err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, m.loader.RegisterConditions(file)...)
			defs = append(defs, file.Rules...)
		}
	}

	fixed := make(map[string]bool, len(defs))
	for _, def := range defs {
		fixed[strings.TrimSpace(def.Description)] = true
	}
	m.mu.Lock()
	m.fixed = fixed
	m.mu.Unlock()

	if m.store != nil {
		stored, err := m.store.ListRuleDefinitions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list stored rules: %w", err))
		} else {
			for _, def := range stored {
				defs = append(defs, *def)
			}
		}
	}

	built, buildErrs := m.loader.Build(defs)
	errs = append(errs, buildErrs...)

	m.engine.ReloadRules(dedupe(built))
	count := m.engine.RulesCount()
	slog.Info("rules loaded", "count", count, "errors", len(errs))
	return count, errs
}

// dedupe keeps the last rule per description at the position of the first.
func dedupe(rules []*domain.Rule) []*domain.Rule {
	index := make(map[string]int, len(rules))
	out := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if i, ok := index[r.Description]; ok {
			out[i] = r
			continue
		}
		index[r.Description] = len(out)
		out = append(out, r)
	}
	return out
}

// Define builds, registers and persists a rule definition.
func (m *Manager) Define(ctx context.Context, def domain.RuleDefinition) (*domain.Rule, error) {
	rule, err := m.loader.BuildRule(def)
	if err != nil {
		return nil, err
	}

	if m.store != nil {
		def.Description = rule.Description
		if err := m.store.SaveRuleDefinition(ctx, &def); err != nil {
			return nil, fmt.Errorf("failed to save rule: %w", err)
		}
	}

	if err := m.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// Remove unregisters a rule and deletes its stored definition. Built-in and
// file rules cannot be removed; deleting a stored override reinstates them.
func (m *Manager) Remove(ctx context.Context, description string) error {
	description = strings.TrimSpace(description)
	m.mu.RLock()
	fixed := m.fixed[description]
	m.mu.RUnlock()

	if m.store == nil {
		if fixed {
			return fmt.Errorf("%w: %s", domain.ErrRuleReadOnly, description)
		}
		if !m.engine.RemoveRule(description) {
			return domain.ErrNotFound
		}
		return nil
	}

	err := m.store.DeleteRuleDefinition(ctx, description)
	switch {
	case errors.Is(err, domain.ErrNotFound) && fixed:
		return fmt.Errorf("%w: %s", domain.ErrRuleReadOnly, description)
	case errors.Is(err, domain.ErrNotFound):
		if !m.engine.RemoveRule(description) {
			return domain.ErrNotFound
		}
		return nil
	case err != nil:
		return err
	}

	m.engine.RemoveRule(description)
	if fixed {
		if _, errs := m.Reload(ctx); len(errs) > 0 {
			slog.Warn("reload after override removal reported errors", "description", description, "errors", len(errs))
		}
	}
	return nil
}
