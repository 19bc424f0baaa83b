// Package backend defines the boundary to the external test execution
// backend: run submission, result polling and artifact retrieval. Results are
// normalized into the canonical types.CaseResult shape here, before they reach
// the orchestration core.
package backend

import (
	"context"

	"github.com/remrun/remrun/types"
)

// RunID identifies a submitted run on the backend
type RunID string

// CaseRef addresses a single case within a suite
type CaseRef struct {
	Suite string
	Case  string
}

// Client is the interface to the test execution backend
type Client interface {
	// SubmitRun starts execution of whole suites and/or individual cases and
	// returns the backend's run identifier. Fails with a SubmissionError when
	// the backend is unreachable or rejects the request.
	SubmitRun(ctx context.Context, suites []string, cases []CaseRef) (RunID, error)

	// PollResults returns the case results known so far for a run. It may be
	// called repeatedly; the caller diffs against what it has already applied.
	// Fails with a PollError, which is transient.
	PollResults(ctx context.Context, id RunID) ([]types.CaseResult, error)

	// FetchArtifact retrieves the content of an artifact (e.g. an execution
	// log). Fails with a FetchError.
	FetchArtifact(ctx context.Context, artifactID string) (string, error)
}
