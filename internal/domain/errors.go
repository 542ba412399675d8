package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEvaluationFailed  = errors.New("evaluation failed")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrSourceUnavailable = errors.New("external source unavailable")
	ErrNotFound          = errors.New("not found")
	ErrUnknownRuleType   = errors.New("unknown rule type")
	ErrRuleReadOnly      = errors.New("rule is defined by a built-in or file source")
)

// InvalidInputError reports a malformed transaction.
type InvalidInputError struct {
	Field string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s is missing or invalid", e.Field)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// UnauthorizedAccessError reports a caller-role check failure at the ingestion boundary.
type UnauthorizedAccessError struct {
	Role     string
	Required string
}

func (e *UnauthorizedAccessError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("unauthorized access: role %s required", e.Required)
	}
	return fmt.Sprintf("unauthorized access: role %s is not %s", e.Role, e.Required)
}

func (e *UnauthorizedAccessError) Unwrap() error { return ErrUnauthorized }

// ExternalSourceError wraps a fetch or parse failure of a sanctions source.
type ExternalSourceError struct {
	Source string
	Err    error
}

func (e *ExternalSourceError) Error() string {
	return fmt.Sprintf("sanctions source %s: %v", e.Source, e.Err)
}

func (e *ExternalSourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }
