package evaluation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for the evaluation error taxonomy. Typed errors below match them through errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrProvider      = errors.New("provider call failed")
	ErrParse         = errors.New("model output unusable")
	ErrConfiguration = errors.New("configuration anomaly")
	ErrInvalidState  = errors.New("invalid state transition")
)

// ValidationError rejects a submission before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is reports ErrValidation equivalence.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ProviderError records the failure of one model run's external call.
type ProviderError struct {
	RunNumber int
	Model     string
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("run %d (%s): %v", e.RunNumber, e.Model, e.Err)
}

// Is reports ErrProvider equivalence.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Unwrap exposes the provider failure.
func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError lists rubric categories a successful run did not address.
type ParseError struct {
	RunNumber  int
	Categories []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("run %d produced no usable data for: %s", e.RunNumber, strings.Join(e.Categories, ", "))
}

// Is reports ErrParse equivalence.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ConfigurationError describes a tolerated configuration anomaly.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string { return "configuration anomaly: " + e.Detail }

// Is reports ErrConfiguration equivalence.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// StateError rejects an action against a draft in the wrong state.
type StateError struct {
	Action  string
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s draft in status %q", e.Action, e.Current)
}

// Is reports ErrInvalidState equivalence.
func (e *StateError) Is(target error) bool { return target == ErrInvalidState }
