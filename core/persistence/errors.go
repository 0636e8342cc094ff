package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

var (
	// ErrUnsupported is returned by adapters for capabilities they lack.
	ErrUnsupported = errors.New("operation not supported")
	// ErrCollectionNotFound is wrapped when a collection name does not resolve.
	ErrCollectionNotFound = errors.New("collection not found")
)

// ConfigurationError reports an invalid customization call. It is raised
// during bootstrap and never retried.
type ConfigurationError struct {
	Collection string
	Field      string
	Message    string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Collection != "" && e.Field != "":
		return fmt.Sprintf("%s.%s: %s", e.Collection, e.Field, e.Message)
	case e.Collection != "":
		return fmt.Sprintf("%s: %s", e.Collection, e.Message)
	default:
		return e.Message
	}
}

// NewConfigurationError builds a *ConfigurationError with a formatted message.
func NewConfigurationError(collection, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Collection: collection, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports a record, patch or condition tree that does not fit
// a schema.
type ValidationError struct {
	Message string
	Issues  []schema.Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// NewValidationError builds a *ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// CycleKind tells which kind of replacement loops.
type CycleKind string

const (
	OperatorCycle CycleKind = "operator"
	WriteCycle    CycleKind = "write"
)

// CycleError reports a replacement that ends up replacing itself. Chain lists
// every step, the repeated one included.
type CycleError struct {
	Kind  CycleKind
	Chain []string
}

func (e *CycleError) Error() string {
	chain := strings.Join(e.Chain, " -> ")
	if e.Kind == WriteCycle {
		return "Cycle detected: " + chain + "."
	}
	return "Operator replacement cycle: " + chain
}

// ConflictError reports a field that received several values while merging
// write handler contributions. It unwraps to a *ValidationError.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Conflict value on the field %q. It received several values.", e.Field)
}

func (e *ConflictError) Unwrap() error {
	return &ValidationError{Message: e.Error()}
}
