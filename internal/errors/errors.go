// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrDataMalformed       = errors.New("data malformed")
	ErrInsufficientCandles = errors.New("insufficient candles")
	ErrSessionClosed       = errors.New("session closed")
	ErrDuplicateProcessing = errors.New("duplicate processing")
	ErrNetworkTransient    = errors.New("transient network failure")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrInvalidDate         = errors.New("invalid date")
	ErrSessionStopped      = errors.New("session stopped")
	ErrAlreadyRunning      = errors.New("scanner already running")
	ErrTradeClosed         = errors.New("trade already closed")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDatabaseError       = errors.New("database error")
)

// FeedError represents an error from the price-feed provider.
type FeedError struct {
	Provider  string
	Operation string
	Transient bool
	Err       error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed error [%s] %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// Is lets transient feed errors match ErrNetworkTransient.
func (e *FeedError) Is(target error) bool {
	return e.Transient && target == ErrNetworkTransient
}

// NewFeedError creates a new FeedError.
func NewFeedError(provider, operation string, transient bool, err error) *FeedError {
	return &FeedError{
		Provider:  provider,
		Operation: operation,
		Transient: transient,
		Err:       err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError wrapping a sentinel.
func NewValidationError(field string, value interface{}, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Err:     err,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// IsRecoverable reports whether err is handled locally by retrying on the
// next tick instead of halting progression.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrDataUnavailable) || errors.Is(err, ErrNetworkTransient)
}

// IsFatal reports whether err must stop a session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidSymbol) || errors.Is(err, ErrInvalidDate) || errors.Is(err, ErrSessionStopped)
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

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
