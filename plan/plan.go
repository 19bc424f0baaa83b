// Package plan loads the run plan: the set of suites and cases the operator
// asks the orchestrator to execute.
package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan is a parsed run plan file
type Plan struct {
	Runs []RunSpec `yaml:"runs"`
}

// RunSpec names one suite to run along with its cases
type RunSpec struct {
	Suite string   `yaml:"suite"`
	Cases []string `yaml:"cases"`
}

// Load reads and validates a run plan from a YAML file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &p, nil
}

// Validate checks the plan for empty or duplicate entries
func (p *Plan) Validate() error {
	if len(p.Runs) == 0 {
		return fmt.Errorf("plan contains no runs")
	}

	seenSuites := make(map[string]bool)
	for i, run := range p.Runs {
		if run.Suite == "" {
			return fmt.Errorf("run %d has no suite name", i)
		}
		if seenSuites[run.Suite] {
			return fmt.Errorf("suite %s listed more than once", run.Suite)
		}
		seenSuites[run.Suite] = true

		if len(run.Cases) == 0 {
			return fmt.Errorf("suite %s has no cases", run.Suite)
		}
		seenCases := make(map[string]bool)
		for _, name := range run.Cases {
			if name == "" {
				return fmt.Errorf("suite %s has an empty case name", run.Suite)
			}
			if seenCases[name] {
				return fmt.Errorf("suite %s lists case %s more than once", run.Suite, name)
			}
			seenCases[name] = true
		}
	}
	return nil
}
