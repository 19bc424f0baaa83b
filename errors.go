package remrun

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, an unreadable plan file, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents a run that completed with failing cases (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// MissingResultError marks a case that never appeared in any poll response
// before its run concluded. The case is failed with this synthetic detail
// instead of being left pending forever.
type MissingResultError struct {
	Case string
}

func (e *MissingResultError) Error() string {
	return fmt.Sprintf("no result reported for case %s", e.Case)
}

// NewMissingResultError creates a new MissingResultError
func NewMissingResultError(caseName string) *MissingResultError {
	return &MissingResultError{Case: caseName}
}

// IsMissingResultError checks if the error is or wraps a MissingResultError
func IsMissingResultError(err error) bool {
	var missingErr *MissingResultError
	return err != nil && errors.As(err, &missingErr)
}
