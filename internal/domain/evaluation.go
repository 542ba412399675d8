package domain

// IngestionStatus is the terminal state of one evaluation.
type IngestionStatus string

const (
	StatusSuccess          IngestionStatus = "SUCCESS"
	StatusInvalidInput     IngestionStatus = "INVALID_INPUT"
	StatusEvaluationFailed IngestionStatus = "EVALUATION_FAILED"
)

// IngestionResult is returned to callers of the evaluator.
type IngestionResult struct {
	TxID           string          `json:"txId,omitempty"`
	Status         IngestionStatus `json:"status"`
	AlertGenerated bool            `json:"alertGenerated"`
	AlertID        *string         `json:"alertId"`
	RiskScore      int             `json:"riskScore"`
	RiskLevel      Level           `json:"riskLevel,omitempty"`

	// AlertPersisted is false when an alert was created but could not be stored.
	AlertPersisted bool   `json:"alertPersisted,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SuppressionCause says why an alert was not raised.
type SuppressionCause string

const (
	SuppressedDuplicate SuppressionCause = "duplicate"
	SuppressedCooldown  SuppressionCause = "cooldown"
)

// Outcome is the tagged result of an alert decision: NoAlert, Suppressed or Created.
type Outcome interface {
	outcome()
	String() string
}

// NoAlert means the transaction evaluated clean.
type NoAlert struct{}

// Suppressed means an alert would have been raised but was withheld.
type Suppressed struct {
	Cause SuppressionCause
}

// Created carries the raised alert.
type Created struct {
	Alert *Alert
}

func (NoAlert) outcome()    {}
func (Suppressed) outcome() {}
func (Created) outcome()    {}

func (NoAlert) String() string      { return "no_alert" }
func (s Suppressed) String() string { return "suppressed_" + string(s.Cause) }
func (Created) String() string      { return "created" }

// AlertDecisionResult is the full decision for one transaction.
type AlertDecisionResult struct {
	Outcome       Outcome               `json:"-"`
	Alert         *Alert                `json:"alert,omitempty"`
	MatchedRule   *Rule                 `json:"matchedRule,omitempty"`
	Reason        string                `json:"reason"`
	RiskScore     int                   `json:"riskScore"`
	PriorityScore int                   `json:"priorityScore"`
	MatchedRules  []string              `json:"matchedRules,omitempty"`
	IsDuplicate   bool                  `json:"isDuplicate"`
	IsInCooldown  bool                  `json:"isInCooldown"`
	Sanctions     *SanctionsMatchResult `json:"sanctions,omitempty"`

	// AlertPersisted is false when the alert could not be stored.
	AlertPersisted bool `json:"alertPersisted"`
}

// ShouldTriggerAlert reports whether the decision produced an alert.
func (r *AlertDecisionResult) ShouldTriggerAlert() bool {
	_, ok := r.Outcome.(Created)
	return ok
}

// NoAlertDecision is the clean result.
func NoAlertDecision(riskScore int) *AlertDecisionResult {
	return &AlertDecisionResult{
		Outcome:   NoAlert{},
		Reason:    "No rules matched",
		RiskScore: riskScore,
	}
}

// DuplicateDecision records a duplicate suppression.
func DuplicateDecision(reason string, riskScore int, rule *Rule, matched []string) *AlertDecisionResult {
	return &AlertDecisionResult{
		Outcome:      Suppressed{Cause: SuppressedDuplicate},
		MatchedRule:  rule,
		Reason:       reason,
		RiskScore:    riskScore,
		MatchedRules: matched,
		IsDuplicate:  true,
	}
}

// CooldownDecision records a cooldown suppression.
func CooldownDecision(reason string, riskScore int, rule *Rule, matched []string) *AlertDecisionResult {
	return &AlertDecisionResult{
		Outcome:      Suppressed{Cause: SuppressedCooldown},
		MatchedRule:  rule,
		Reason:       reason,
		RiskScore:    riskScore,
		MatchedRules: matched,
		IsInCooldown: true,
	}
}

// SanctionsDecision carries a sanctions alert. Priority is fixed at 100; the
// risk score is the transaction's base score.
func SanctionsDecision(alert *Alert, match SanctionsMatchResult, riskScore int) *AlertDecisionResult {
	return &AlertDecisionResult{
		Outcome:       Created{Alert: alert},
		Alert:         alert,
		Reason:        match.FormattedReason(),
		RiskScore:     riskScore,
		PriorityScore: 100,
		MatchedRules:  []string{"SANCTIONS"},
		Sanctions:     &match,
	}
}

// RuleMatchDecision carries a rule alert.
func RuleMatchDecision(alert *Alert, rule *Rule, riskScore int, matched []string) *AlertDecisionResult {
	return &AlertDecisionResult{
		Outcome:       Created{Alert: alert},
		Alert:         alert,
		MatchedRule:   rule,
		Reason:        alert.Reason,
		RiskScore:     riskScore,
		PriorityScore: alert.PriorityScore,
		MatchedRules:  matched,
	}
}

// AlertStats is a snapshot of alert engine counters.
type AlertStats struct {
	TotalCreated        int64            `json:"totalCreated"`
	TotalSuppressed     int64            `json:"totalSuppressed"`
	DuplicateSuppressed int64            `json:"duplicateSuppressed"`
	CooldownSuppressed  int64            `json:"cooldownSuppressed"`
	ProcessingFailures  int64            `json:"processingFailures"`
	ByType              map[string]int64 `json:"byType"`
	ByRule              map[string]int64 `json:"byRule"`
	ActiveCooldowns     int              `json:"activeCooldowns"`
	FingerprintsTracked int64            `json:"fingerprintsTracked"`
}

// EvaluationStats is a snapshot of evaluator counters.
type EvaluationStats struct {
	TotalEvaluated   int64            `json:"totalEvaluated"`
	AlertsGenerated  int64            `json:"alertsGenerated"`
	SanctionsMatches int64            `json:"sanctionsMatches"`
	InvalidInputs    int64            `json:"invalidInputs"`
	Failures         int64            `json:"failures"`
	RuleMatches      map[string]int64 `json:"ruleMatches"`
}
