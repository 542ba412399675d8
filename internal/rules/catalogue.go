// Package rules resolves, registers and evaluates transaction rules.
package rules

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Condition type names.
const (
	TypeHighValue           = "high_value"
	TypeLowValue            = "low_value"
	TypeMediumRiskCountry   = "medium_risk_country"
	TypeHighRiskCountry     = "high_risk_country"
	TypeFATFGreyList        = "fatf_grey_list"
	TypeMoneyLaunderingRisk = "money_laundering_risk"
	TypeManualFlag          = "manual_flag"
	TypeAlwaysTrue          = "always_true"
	TypeHighRiskCurrency    = "high_risk_currency"
	TypeFrequentSender      = "frequent_sender"
)

var (
	highValueThreshold = decimal.NewFromInt(10000)
	lowValueThreshold  = decimal.NewFromInt(500)
)

// Fixed country lists used by the catalogue.
var (
	MediumRiskCountries = []string{"Turkey", "Mexico"}

	SanctionedStates = []string{
		"Belarus", "Cuba", "Iran", "Myanmar", "North Korea", "Russia", "Syria", "Venezuela",
	}

	FATFGreyList = []string{
		"Algeria", "Angola", "Bulgaria", "Burkina Faso", "Cameroon", "Croatia",
		"Democratic Republic of the Congo", "Haiti", "Kenya", "Lebanon", "Mali",
		"Monaco", "Mozambique", "Namibia", "Nigeria", "Philippines", "South Africa",
		"South Sudan", "Syria", "Tanzania", "Venezuela", "Vietnam", "Yemen",
	}
)

const highRiskCurrencyExpr = `currency in ["BTC", "XBT", "ETH", "XRP"]`

// Catalogue maps rule type names to conditions. Names are case-insensitive.
// Expression conditions are compiled once, when registered.
type Catalogue struct {
	mu         sync.RWMutex
	env        *cel.Env
	conditions map[string]domain.Condition
}

// NewCatalogue builds the catalogue with every built-in condition type.
func NewCatalogue() (*Catalogue, error) {
	env, err := cel.NewEnv(
		cel.Variable("sender", cel.StringType),
		cel.Variable("receiver", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("dob", cel.StringType),
		cel.Variable("manual_flag", cel.BoolType),
		cel.Variable("frequent_sender", cel.BoolType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Catalogue{
		env:        env,
		conditions: make(map[string]domain.Condition),
	}

	mediumRisk := countrySet(MediumRiskCountries)
	sanctioned := countrySet(SanctionedStates)
	greyList := countrySet(FATFGreyList)

	builtins := map[string]domain.Condition{
		TypeHighValue: func(_ *domain.Transaction, amt decimal.Decimal) bool {
			return amt.GreaterThan(highValueThreshold)
		},
		TypeLowValue: func(_ *domain.Transaction, amt decimal.Decimal) bool {
			return amt.LessThan(lowValueThreshold)
		},
		TypeMediumRiskCountry: func(tx *domain.Transaction, _ decimal.Decimal) bool {
			return mediumRisk[countryKey(tx.Country)]
		},
		TypeHighRiskCountry: func(tx *domain.Transaction, _ decimal.Decimal) bool {
			return sanctioned[countryKey(tx.Country)]
		},
		TypeFATFGreyList: func(tx *domain.Transaction, _ decimal.Decimal) bool {
			return greyList[countryKey(tx.Country)]
		},
		// High-value movement into a grey-listed or sanctioned jurisdiction.
		TypeMoneyLaunderingRisk: func(tx *domain.Transaction, amt decimal.Decimal) bool {
			k := countryKey(tx.Country)
			return amt.GreaterThan(highValueThreshold) && (greyList[k] || sanctioned[k])
		},
		TypeManualFlag: func(tx *domain.Transaction, _ decimal.Decimal) bool {
			return tx.HasManualFlag()
		},
		TypeFrequentSender: func(tx *domain.Transaction, _ decimal.Decimal) bool {
			return tx.FrequentSender
		},
		TypeAlwaysTrue: func(*domain.Transaction, decimal.Decimal) bool {
			return true
		},
	}
	for name, cond := range builtins {
		c.conditions[name] = cond
	}

	if err := c.RegisterExpression(TypeHighRiskCurrency, highRiskCurrencyExpr); err != nil {
		return nil, err
	}

	return c, nil
}

func countryKey(country string) string {
	return strings.ToLower(strings.TrimSpace(country))
}

func countrySet(countries []string) map[string]bool {
	set := make(map[string]bool, len(countries))
	for _, c := range countries {
		set[countryKey(c)] = true
	}
	return set
}

// Resolve returns the condition registered under typ.
func (c *Catalogue) Resolve(typ string) (domain.Condition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cond, ok := c.conditions[strings.ToLower(strings.TrimSpace(typ))]
	return cond, ok
}

// Types returns the registered type names, sorted.
func (c *Catalogue) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.conditions))
	for name := range c.conditions {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Register adds a named Go condition. Names cannot be redefined.
func (c *Catalogue) Register(name string, cond domain.Condition) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || cond == nil {
		return fmt.Errorf("condition name and function are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.conditions[key]; exists {
		return fmt.Errorf("condition type %q already registered", key)
	}
	c.conditions[key] = cond
	return nil
}

// RegisterExpression compiles a boolean CEL expression and registers it as a
// named condition. Variables: sender, receiver, amount, currency, country,
// dob, manual_flag, frequent_sender and metadata.
func (c *Catalogue) RegisterExpression(name, expr string) error {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("failed to compile condition %s: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("condition %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to create program for condition %s: %w", name, err)
	}

	return c.Register(name, func(tx *domain.Transaction, amt decimal.Decimal) bool {
		out, _, err := program.Eval(activation(tx, amt))
		if err != nil {
			slog.Warn("condition evaluation error",
				"condition", name,
				"tx_id", tx.ID,
				"error", err,
			)
			return false
		}
		b, ok := out.(types.Bool)
		return ok && bool(b)
	})
}

func activation(tx *domain.Transaction, amt decimal.Decimal) map[string]any {
	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]any{
		"sender":          tx.Sender,
		"receiver":        tx.Receiver,
		"amount":          amt.InexactFloat64(),
		"currency":        strings.ToUpper(strings.TrimSpace(tx.Currency)),
		"country":         tx.Country,
		"dob":             tx.DOB,
		"manual_flag":     tx.HasManualFlag(),
		"frequent_sender": tx.FrequentSender,
		"metadata":        metadata,
	}
}
