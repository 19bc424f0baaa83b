package types

import (
	"strings"
	"time"
)

// Outcome is the backend-reported result of a single case
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
	OutcomeSkip Outcome = "skip"
)

// ParseOutcome normalizes a backend outcome string into a canonical Outcome.
// Backends disagree on casing ("Pass", "PASS", "Passed"); everything is
// normalized here so the core never branches on spelling variants.
func ParseOutcome(s string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "passed", "success":
		return OutcomePass, true
	case "fail", "failed", "failure":
		return OutcomeFail, true
	case "skip", "skipped":
		return OutcomeSkip, true
	}
	return "", false
}

// StatusFromOutcome maps a reported outcome onto the node status a case ends
// in: only a failing outcome marks the node failed.
func StatusFromOutcome(o Outcome) NodeStatus {
	if o == OutcomeFail {
		return StatusFailed
	}
	return StatusSuccess
}

// CaseResult is the canonical, normalized per-case result produced at the
// backend adapter boundary
type CaseResult struct {
	Suite      string
	Case       string
	Outcome    Outcome
	Message    string
	StackTrace string
	ArtifactID string
	Duration   time.Duration
}

// Detail returns the human-readable failure description for a failed case
func (r CaseResult) Detail() string {
	if r.Message != "" && r.StackTrace != "" {
		return r.Message + "\n" + r.StackTrace
	}
	if r.Message != "" {
		return r.Message
	}
	return r.StackTrace
}
