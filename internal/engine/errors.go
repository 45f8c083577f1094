package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected by the engine outside event
// validation. Rejected events return *ir.ValidationError instead.
//
// Runtime errors include:
//   - Session misuse: ending a session that was never started
//   - Analysis failure: an analyzer failed or panicked for one window
//   - Persistence unavailable: no store configured
//   - Closed engine: the engine no longer accepts work
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Session identifies the affected session, if any.
	Session string

	// Stage names the analyzer that failed (analysis errors only).
	Stage string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNoSession indicates an operation that needs an active session.
	ErrCodeNoSession RuntimeErrorCode = "NO_SESSION"

	// ErrCodeSessionActive indicates a session was started over another.
	ErrCodeSessionActive RuntimeErrorCode = "SESSION_ACTIVE"

	// ErrCodeAnalysisFailed indicates an analyzer failed for one window.
	ErrCodeAnalysisFailed RuntimeErrorCode = "ANALYSIS_FAILED"

	// ErrCodeNoStore indicates persistence was requested without a store.
	ErrCodeNoStore RuntimeErrorCode = "NO_STORE"

	// ErrCodeClosed indicates the engine has been closed.
	ErrCodeClosed RuntimeErrorCode = "ENGINE_CLOSED"

	// ErrCodeInvalidConfig indicates New was given an invalid configuration.
	ErrCodeInvalidConfig RuntimeErrorCode = "INVALID_CONFIG"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Stage != "" {
		msg += fmt.Sprintf(" (stage=%s)", e.Stage)
	}
	if e.Session != "" {
		msg += fmt.Sprintf(" (session=%s)", e.Session)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is a RuntimeError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsAnalysisError returns true if the error is an isolated analysis failure.
func IsAnalysisError(err error) bool {
	return HasCode(err, ErrCodeAnalysisFailed)
}

// NewAnalysisError creates a RuntimeError for a failed analyzer.
func NewAnalysisError(stage, session string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAnalysisFailed,
		Message: "window analysis dropped",
		Stage:   stage,
		Session: session,
		Err:     err,
	}
}

func newRuntimeError(code RuntimeErrorCode, session, message string) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, Session: session}
}
