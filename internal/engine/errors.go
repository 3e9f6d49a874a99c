package engine

import (
	"errors"
	"fmt"

	"github.com/mwald/warden/internal/catalog"
	"github.com/mwald/warden/internal/predicate"
)

// RunError represents a rule execution failing before or during its
// pass. It includes structured fields for diagnostics; per-file
// action failures are not RunErrors (the run stays successful with a
// nonzero failed count) unless the library is unreachable outright.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// RuleID identifies the affected rule.
	RuleID string

	// PerFile carries hash -> failure detail where a breakdown exists.
	PerFile map[string]string
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeConfiguration indicates the rule itself is invalid
	// (operator/kind mismatch, duplicate limit).
	ErrCodeConfiguration RunErrorCode = "CONFIGURATION"

	// ErrCodeServiceNotFound indicates a service key that is absent
	// from the current catalog snapshot.
	ErrCodeServiceNotFound RunErrorCode = "SERVICE_NOT_FOUND"

	// ErrCodeTranslation indicates translation produced critical
	// warnings, aborting the run before any search.
	ErrCodeTranslation RunErrorCode = "TRANSLATION"

	// ErrCodeInfrastructure indicates the library was unreachable or
	// rejected a call outright. Aborts the remainder of the pass.
	ErrCodeInfrastructure RunErrorCode = "INFRASTRUCTURE"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, e.Message, e.RuleID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInfrastructureError reports whether err is an infrastructure run
// error. Uses errors.As to handle wrapped errors.
func IsInfrastructureError(err error) bool {
	var re *RunError
	return errors.As(err, &re) && re.Code == ErrCodeInfrastructure
}

// classifyRunError wraps a translation-stage failure into a RunError
// with the right code.
func classifyRunError(ruleID string, err error) *RunError {
	var ce *predicate.ConfigError
	if errors.As(err, &ce) {
		return &RunError{Code: ErrCodeConfiguration, Message: err.Error(), RuleID: ruleID}
	}
	var nf *catalog.NotFoundError
	if errors.As(err, &nf) {
		return &RunError{Code: ErrCodeServiceNotFound, Message: err.Error(), RuleID: ruleID}
	}
	return &RunError{Code: ErrCodeConfiguration, Message: err.Error(), RuleID: ruleID}
}

func infrastructureError(ruleID string, err error) *RunError {
	return &RunError{Code: ErrCodeInfrastructure, Message: err.Error(), RuleID: ruleID}
}
