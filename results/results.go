package results

import (
	"fmt"
	"time"

	"github.com/remrun/remrun/types"
)

// Stats tracks case counts for a run or an aggregate of runs
type Stats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// Record updates the counters for one reported case outcome
func (s *Stats) Record(outcome types.Outcome) {
	s.Total++
	switch outcome {
	case types.OutcomePass:
		s.Passed++
	case types.OutcomeFail:
		s.Failed++
	case types.OutcomeSkip:
		s.Skipped++
	}
}

// RunResult captures the final outcome of a single suite run
type RunResult struct {
	Suite    string
	RunID    string
	Status   types.NodeStatus
	Stats    Stats
	Duration time.Duration
}

// Summary is the aggregate over zero or more independent run results.
// Derived on demand, never stored.
type Summary struct {
	Stats    Stats
	Duration time.Duration
	Status   types.NodeStatus
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d cases passed (%d failed, %d skipped) in %.1fs [%s]",
		s.Stats.Passed, s.Stats.Total, s.Stats.Failed, s.Stats.Skipped,
		s.Duration.Seconds(), s.Status)
}

// Combine folds independent run results into one summary. The fold is
// commutative and associative: counts and durations sum field-wise, and the
// outcome is failed if any input is failed. Zero inputs yield a failed summary
// with zero counters, since there is nothing to report as passing.
func Combine(runs []RunResult) Summary {
	summary := Summary{Status: types.StatusFailed}
	if len(runs) == 0 {
		return summary
	}

	summary.Status = types.StatusSuccess
	for _, run := range runs {
		summary.Stats.Total += run.Stats.Total
		summary.Stats.Passed += run.Stats.Passed
		summary.Stats.Failed += run.Stats.Failed
		summary.Stats.Skipped += run.Stats.Skipped
		summary.Duration += run.Duration
		if run.Status == types.StatusFailed {
			summary.Status = types.StatusFailed
		}
	}
	return summary
}
