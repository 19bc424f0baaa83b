package backend

import (
	"errors"
	"fmt"
)

// SubmissionError indicates a run could not be started at all. It is the only
// backend failure that propagates to the caller of a run request, since no
// partial progress is possible.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("run submission failed: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// NewSubmissionError creates a new SubmissionError
func NewSubmissionError(err error) *SubmissionError {
	return &SubmissionError{Err: err}
}

// IsSubmissionError checks if the error is or wraps a SubmissionError
func IsSubmissionError(err error) bool {
	var submissionErr *SubmissionError
	return err != nil && errors.As(err, &submissionErr)
}

// PollError indicates a transient failure while polling for results. Nothing
// is marked failed; the poll is simply retried on the next tick.
type PollError struct {
	Err error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("result poll failed: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *PollError) Unwrap() error {
	return e.Err
}

// NewPollError creates a new PollError
func NewPollError(err error) *PollError {
	return &PollError{Err: err}
}

// IsPollError checks if the error is or wraps a PollError
func IsPollError(err error) bool {
	var pollErr *PollError
	return err != nil && errors.As(err, &pollErr)
}

// FetchError indicates an artifact retrieval failure. The owning case's
// outcome is unaffected; only the artifact content is unavailable.
type FetchError struct {
	ArtifactID string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("artifact fetch failed for %s: %v", e.ArtifactID, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError
func NewFetchError(artifactID string, err error) *FetchError {
	return &FetchError{ArtifactID: artifactID, Err: err}
}

// IsFetchError checks if the error is or wraps a FetchError
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return err != nil && errors.As(err, &fetchErr)
}
