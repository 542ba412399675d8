package rules

import "github.com/opensource-finance/heron/internal/domain"

// BuiltinDefinitions returns the rules loaded when no definitions override them.
func BuiltinDefinitions() []domain.RuleDefinition {
	return []domain.RuleDefinition{
		{
			Description: "High Value Transfer Rule",
			Sensitivity: string(domain.SensitivityHigh),
			Tags:        []string{"value", "priority", "large_txn"},
			Type:        TypeHighValue,
		},
		{
			Description: "Medium Risk Region Transfer",
			Sensitivity: string(domain.SensitivityMedium),
			Tags:        []string{"geo", "moderate_risk", "region_specific"},
			Type:        TypeMediumRiskCountry,
		},
		{
			Description: "Low Value Routine Transfer",
			Sensitivity: string(domain.SensitivityLow),
			Tags:        []string{"routine", "small_amount", "low_risk"},
			Type:        TypeLowValue,
		},
		{
			Description: "Manual Flag Rule",
			Sensitivity: string(domain.SensitivityHigh),
			Tags:        []string{"manual", "review"},
			Type:        TypeManualFlag,
		},
		{
			Description: "Currency Risk Rule",
			Sensitivity: string(domain.SensitivityMedium),
			Tags:        []string{"currency", "crypto"},
			Type:        TypeHighRiskCurrency,
		},
		{
			Description: "Frequent Sender Rule",
			Sensitivity: string(domain.SensitivityMedium),
			Tags:        []string{"behavior", "frequency", "pattern"},
			Type:        TypeFrequentSender,
		},
	}
}
