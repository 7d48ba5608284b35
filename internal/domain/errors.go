package domain

import (
	"errors"
	"fmt"
)

// ── Error classes ──────────────────────────────────────────
// Per-rule and per-locator errors are isolated and logged. Only
// ConfigurationError aborts a run, and only during setup.

// ErrSelectorRejected marks a container excluded by a data selector. It is
// not a failure and is kept out of success/failure accounting.
var ErrSelectorRejected = errors.New("rejected by data selector")

// RuleError wraps a failure raised by one compute rule.
type RuleError struct {
	Method string
	Scope  MethodScope
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s (%s): %v", e.Method, e.Scope, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// CastError reports an unparseable non-null value.
type CastError struct {
	Table     string
	Attribute string
	Value     string
	Err       error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cast %s.%s value %q: %v", e.Table, e.Attribute, e.Value, e.Err)
}

func (e *CastError) Unwrap() error { return e.Err }

// MergeInconsistency reports an irregular parallel-list join during
// subcategory aggregation. It is logged, never returned to callers.
type MergeInconsistency struct {
	Aggregate string
	Table     string
	Detail    string
}

func (e *MergeInconsistency) Error() string {
	return fmt.Sprintf("aggregate %s in %s: %s", e.Aggregate, e.Table, e.Detail)
}

// PersistenceFailure reports a delete/insert error or short count.
type PersistenceFailure struct {
	Collection string
	Op         string
	Attempted  int
	Succeeded  int
	Err        error
}

func (e *PersistenceFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %d/%d: %v", e.Op, e.Collection, e.Succeeded, e.Attempted, e.Err)
	}
	return fmt.Sprintf("%s %s: %d/%d", e.Op, e.Collection, e.Succeeded, e.Attempted)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

// ReadBackMismatch reports a stored document that differs from the
// submitted one.
type ReadBackMismatch struct {
	Collection string
	ID         any
	Diff       string
}

func (e *ReadBackMismatch) Error() string {
	return fmt.Sprintf("read-back %s id %v: %s", e.Collection, e.ID, e.Diff)
}

// ConfigurationError reports missing or inconsistent schema, locator or
// collection configuration.
type ConfigurationError struct {
	Subject string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Subject, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConfigErrorf builds a ConfigurationError.
func ConfigErrorf(subject, format string, args ...any) error {
	return &ConfigurationError{Subject: subject, Err: fmt.Errorf(format, args...)}
}

// IsConfigurationError reports whether err is fatal at setup.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
