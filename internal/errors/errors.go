// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrMalformedRecord    = errors.New("malformed record")
	ErrAggregationTimeout = errors.New("aggregation timed out")
	ErrNoSnapshot         = errors.New("no committed snapshot")
	ErrNoSources          = errors.New("no source produced data")
	ErrQueryValidation    = errors.New("query parameter out of range")
	ErrTickerNotFound     = errors.New("ticker not found")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDatabaseError      = errors.New("database error")
)

// SourceError represents a whole-source failure within a cycle.
type SourceError struct {
	Source string
	Stage  string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error [%s] %s: %v", e.Source, e.Stage, e.Err)
}

// Unwrap exposes both the underlying cause and ErrSourceUnavailable.
func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// NewSourceError creates a new SourceError.
func NewSourceError(source, stage string, err error) *SourceError {
	return &SourceError{
		Source: source,
		Stage:  stage,
		Err:    err,
	}
}

// RecordError represents a single raw record that failed validation.
type RecordError struct {
	Source string
	Ticker string
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("malformed %s record [%s] %s: %s", e.Source, e.Ticker, e.Field, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}

// NewRecordError creates a new RecordError.
func NewRecordError(source, ticker, field, reason string) *RecordError {
	return &RecordError{
		Source: source,
		Ticker: ticker,
		Field:  field,
		Reason: reason,
	}
}

// QueryValidationError records a query parameter that was clamped into range.
// It is reported in response metadata and never returned to callers.
type QueryValidationError struct {
	Field   string
	Value   interface{}
	Clamped interface{}
}

func (e *QueryValidationError) Error() string {
	return fmt.Sprintf("%s=%v out of range, using %v", e.Field, e.Value, e.Clamped)
}

func (e *QueryValidationError) Unwrap() error {
	return ErrQueryValidation
}

// NewQueryValidationError creates a new QueryValidationError.
func NewQueryValidationError(field string, value, clamped interface{}) *QueryValidationError {
	return &QueryValidationError{
		Field:   field,
		Value:   value,
		Clamped: clamped,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
