package errors

import (
	"fmt"
)

// PipelineError is the structured error type for pigeon-evals.
// It carries the error code, the pipeline stage that produced it, and the
// underlying cause so failures can be routed (fatal vs. partial) and logged
// with context.
type PipelineError struct {
	// Code is the unique error code (e.g., "ERR_301_PROVIDER_UNAVAILABLE").
	Code string

	// Stage names the pipeline stage that produced the error
	// (load, parse, embed, reduce, store, retrieve, eval).
	Stage string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works across wrapped instances.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithStage attaches the pipeline stage name. Returns the error for chaining.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// New creates a new PipelineError with the given code and message.
// Category and retryable flag are derived from the code.
func New(code string, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a PipelineError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *PipelineError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a PipelineError from an existing error.
// Returns nil when err is nil.
func Wrap(code string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *PipelineError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a store write/query error.
func StoreError(message string, cause error) *PipelineError {
	return New(ErrCodeStoreError, message, cause)
}

// ProviderError creates a provider/transport error.
func ProviderError(message string, cause error) *PipelineError {
	return New(ErrCodeProviderUnavailable, message, cause)
}

// NotImplemented creates an error for reserved-but-unimplemented features.
func NotImplemented(feature string) *PipelineError {
	return Newf(ErrCodeNotImplemented, "%s is not implemented", feature)
}

// WithStage attaches a stage name to any error. Pipeline errors keep their
// code; everything else is wrapped as internal. Returns nil for nil.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PipelineError); ok {
		if pe.Stage == "" {
			pe.Stage = stage
		}
		return pe
	}
	wrapped := Wrap(ErrCodeInternal, err)
	wrapped.Stage = stage
	return wrapped
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe.Retryable
	}
	return false
}

// GetCode extracts the error code from a PipelineError.
// Returns empty string if not a PipelineError.
func GetCode(err error) string {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Code
	}
	return ""
}

// GetStage extracts the stage from a PipelineError.
func GetStage(err error) string {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Stage
	}
	return ""
}
