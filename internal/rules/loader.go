package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefinitionFile is the on-disk rule format. Conditions are named CEL
// expressions registered in the catalogue before rules are built.
type DefinitionFile struct {
	Conditions map[string]string       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Rules      []domain.RuleDefinition `json:"rules" yaml:"rules"`
}

// ParseDefinitions decodes a JSON or YAML definition document. A bare array of
// rule definitions is accepted as well as the object form.
func ParseDefinitions(r io.Reader, format string) (*DefinitionFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule definitions: %w", err)
	}

	file := &DefinitionFile{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return file, nil
	}

	switch strings.ToLower(format) {
	case "json":
		if trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &file.Rules)
		} else {
			err = json.Unmarshal(trimmed, file)
		}
	case "yaml", "yml":
		var node yaml.Node
		if err = yaml.Unmarshal(trimmed, &node); err != nil {
			break
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err = node.Decode(&file.Rules)
		} else {
			err = node.Decode(file)
		}
	default:
		return nil, fmt.Errorf("unsupported rule definition format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule definitions: %w", err)
	}
	return file, nil
}

// LoadDefinitionsFile reads a definition file. The format follows the extension.
func LoadDefinitionsFile(path string) (*DefinitionFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule definitions: %w", err)
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ParseDefinitions(f, format)
}

// Loader turns definitions into rules through a catalogue.
type Loader struct {
	catalogue *Catalogue
}

// NewLoader creates a loader.
func NewLoader(c *Catalogue) *Loader {
	return &Loader{catalogue: c}
}

// Catalogue returns the loader's catalogue.
func (l *Loader) Catalogue() *Catalogue {
	return l.catalogue
}

// BuildRule resolves one definition.
func (l *Loader) BuildRule(def domain.RuleDefinition) (*domain.Rule, error) {
	desc := strings.TrimSpace(def.Description)
	if desc == "" {
		return nil, &domain.InvalidInputError{Field: "description"}
	}

	sensitivity, err := domain.ParseSensitivity(def.Sensitivity)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w: %w", desc, domain.ErrInvalidInput, err)
	}

	cond, ok := l.catalogue.Resolve(def.Type)
	if !ok {
		return nil, fmt.Errorf("rule %q: %w: %s", desc, domain.ErrUnknownRuleType, def.Type)
	}

	switch def.Cooldown {
	case "", domain.CooldownSanctions, domain.CooldownHigh, domain.CooldownDefault:
	default:
		return nil, fmt.Errorf("rule %q: %w: unknown cooldown class %q", desc, domain.ErrInvalidInput, def.Cooldown)
	}

	return &domain.Rule{
		Description: desc,
		Sensitivity: sensitivity,
		Tags:        append([]string(nil), def.Tags...),
		Type:        strings.ToLower(strings.TrimSpace(def.Type)),
		Cooldown:    def.Cooldown,
		Condition:   cond,
	}, nil
}

// Build resolves every definition. Definitions that fail are logged and
// skipped; their errors are returned alongside the rules that loaded.
func (l *Loader) Build(defs []domain.RuleDefinition) ([]*domain.Rule, []error) {
	rules := make([]*domain.Rule, 0, len(defs))
	var errs []error
	for _, def := range defs {
		rule, err := l.BuildRule(def)
		if err != nil {
			slog.Warn("skipping rule definition", "description", def.Description, "type", def.Type, "error", err)
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}

// RegisterConditions compiles the named expressions of a definition file.
func (l *Loader) RegisterConditions(file *DefinitionFile) []error {
	var errs []error
	for name, expr := range file.Conditions {
		if _, exists := l.catalogue.Resolve(name); exists {
			continue
		}
		if err := l.catalogue.RegisterExpression(name, expr); err != nil {
			slog.Warn("skipping condition", "name", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
