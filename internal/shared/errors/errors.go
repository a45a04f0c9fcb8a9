// Package errors defines the error taxonomy shared by the execution engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine error for disposition (surface, retry, drop).
type Kind string

const (
	KindInvalidInput          Kind = "INVALID_INPUT"
	KindResourceNotFound      Kind = "RESOURCE_NOT_FOUND"
	KindBusinessRuleViolation Kind = "BUSINESS_RULE_VIOLATION"
	KindDatabaseQuery         Kind = "DATABASE_QUERY_ERROR"
	KindTransaction           Kind = "TRANSACTION_ERROR"
	KindEngineSubmission      Kind = "ENGINE_SUBMISSION_ERROR"
	KindContextBuild          Kind = "CONTEXT_BUILD_ERROR"
	KindResultProcessing      Kind = "RESULT_PROCESSING_ERROR"
)

// Error is the engine's structured error. Details carries machine-readable
// context (parameter names, offending paths, record ids).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a single detail entry and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput reports malformed parameters, coercion failures, unknown
// reference kinds, bad paths, and cross-workspace references.
func InvalidInput(format string, args ...interface{}) *Error {
	return newError(KindInvalidInput, format, args...)
}

// NotFound reports a missing referenced record.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindResourceNotFound, format, args...)
}

// BusinessRule reports a domain constraint violation.
func BusinessRule(format string, args ...interface{}) *Error {
	return newError(KindBusinessRuleViolation, format, args...)
}

// Database wraps a failed query.
func Database(err error, format string, args ...interface{}) *Error {
	e := newError(KindDatabaseQuery, format, args...)
	e.Err = err
	return e
}

// Transaction wraps a failed transaction scope.
func Transaction(err error, format string, args ...interface{}) *Error {
	e := newError(KindTransaction, format, args...)
	e.Err = err
	return e
}

// EngineSubmission wraps a failed queue submit.
func EngineSubmission(err error, format string, args ...interface{}) *Error {
	e := newError(KindEngineSubmission, format, args...)
	e.Err = err
	return e
}

// ContextBuild wraps a per-input resolution failure.
func ContextBuild(err error, format string, args ...interface{}) *Error {
	e := newError(KindContextBuild, format, args...)
	e.Err = err
	return e
}

// ResultProcessing wraps a failed result ingestion.
func ResultProcessing(err error, format string, args ...interface{}) *Error {
	e := newError(KindResultProcessing, format, args...)
	e.Err = err
	return e
}

// KindOf extracts the Kind from err, unwrapping as needed. Unclassified
// errors report KindDatabaseQuery's disposition-neutral empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error class is transient. Caller-facing
// kinds are never retried automatically.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindResourceNotFound, KindBusinessRuleViolation, KindContextBuild:
		return false
	case KindDatabaseQuery, KindTransaction:
		return IsDeadlock(err)
	case KindEngineSubmission, KindResultProcessing:
		return true
	default:
		return false
	}
}

// deadlockMarkers are the driver error fragments treated as lock contention.
// Postgres reports 40001/40P01 with these texts; MySQL reports 1213/1205.
var deadlockMarkers = []string{
	"deadlock detected",
	"deadlock found",
	"could not serialize access",
	"lock wait timeout",
	"lock timeout",
}

// IsDeadlock reports whether err looks like database lock contention,
// which the retry paths treat as transient.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range deadlockMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
