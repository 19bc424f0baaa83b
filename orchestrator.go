package remrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/clock"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/remrun/remrun/backend"
	"github.com/remrun/remrun/downloads"
	"github.com/remrun/remrun/metrics"
	"github.com/remrun/remrun/notify"
	"github.com/remrun/remrun/registry"
	"github.com/remrun/remrun/results"
	"github.com/remrun/remrun/types"
)

const (
	DefaultPollInterval = 2 * time.Second
)

// RunRequest asks for one suite to be executed with the given cases
type RunRequest struct {
	Suite string
	Cases []string
}

// OrchestratorConfig holds configuration for creating an orchestrator
type OrchestratorConfig struct {
	Backend        backend.Client
	Log            log.Logger
	Clock          clock.Clock
	PollInterval   time.Duration
	DebounceWindow time.Duration
	ArtifactSink   downloads.Sink
}

// Orchestrator drives remote test execution: it submits runs to the backend,
// polls for per-case results, applies state transitions to the run registry,
// coordinates artifact downloads and produces a RunResult per run. Multiple
// runs and multiple artifact fetches proceed concurrently; failures local to
// one case or run never touch siblings.
type Orchestrator struct {
	backend      backend.Client
	log          log.Logger
	clock        clock.Clock
	pollInterval time.Duration
	registry     *registry.Registry
	debouncer    *notify.Debouncer
	downloads    *downloads.Manager
	tracer       trace.Tracer
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend client is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.SystemClock
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	dl, err := downloads.NewManager(downloads.Config{
		Fetcher: cfg.Backend,
		Sink:    cfg.ArtifactSink,
		Log:     cfg.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create download manager: %w", err)
	}

	cfg.Log.Debug("NewOrchestrator()", "pollInterval", cfg.PollInterval, "debounceWindow", cfg.DebounceWindow)

	return &Orchestrator{
		backend:      cfg.Backend,
		log:          cfg.Log,
		clock:        cfg.Clock,
		pollInterval: cfg.PollInterval,
		registry:     registry.NewRegistry(registry.Config{Log: cfg.Log}),
		debouncer:    notify.NewDebouncer(cfg.Clock, cfg.DebounceWindow),
		downloads:    dl,
		tracer:       otel.Tracer("run orchestrator"),
	}, nil
}

// OnChanged subscribes a handler to the debounced change notification. The
// handler receives no payload and re-reads registry state through Run/Runs.
func (o *Orchestrator) OnChanged(handler func()) {
	o.debouncer.Subscribe(handler)
}

// Run returns a snapshot of the current tree for a suite name
func (o *Orchestrator) Run(suite string) (*types.RunNode, bool) {
	return o.registry.Run(suite)
}

// Runs returns snapshots of all current run trees
func (o *Orchestrator) Runs() []*types.RunNode {
	return o.registry.Runs()
}

// ClearRuns empties the registry and emits one change notification
func (o *Orchestrator) ClearRuns() {
	o.registry.Clear()
	o.debouncer.Notify()
}

// Flush forces immediate delivery of any pending change notification
func (o *Orchestrator) Flush() {
	o.debouncer.Flush()
}

// runState tracks the progress of a single run while it is being polled
type runState struct {
	suite   string
	token   uint64
	applied map[string]bool
	stats   results.Stats
	fetches sync.WaitGroup
}

// RequestRun executes one suite run end to end and returns its result.
// Only a submission failure propagates as an error; every later failure is
// absorbed into the affected node's state.
func (o *Orchestrator) RequestRun(ctx context.Context, req RunRequest) (*results.RunResult, error) {
	if req.Suite == "" {
		return nil, fmt.Errorf("suite name is required")
	}
	if len(req.Cases) == 0 {
		return nil, fmt.Errorf("at least one case is required")
	}

	ctx, span := o.tracer.Start(ctx, fmt.Sprintf("run %s", req.Suite))
	defer span.End()

	metrics.RunStarted()
	defer metrics.RunFinished()

	_, token := o.registry.AddRun(req.Suite, req.Cases)
	o.debouncer.Notify()

	start := o.clock.Now()
	o.log.Info("Submitting run", "suite", req.Suite, "cases", len(req.Cases))

	caseRefs := make([]backend.CaseRef, 0, len(req.Cases))
	for _, name := range req.Cases {
		caseRefs = append(caseRefs, backend.CaseRef{Suite: req.Suite, Case: name})
	}

	runID, err := o.backend.SubmitRun(ctx, nil, caseRefs)
	if err != nil {
		detail := err.Error()
		o.registry.Update(req.Suite, token, func(node *types.RunNode) {
			node.Status = types.StatusFailed
			node.ErrorDetail = detail
			for _, child := range node.Children {
				child.Status = types.StatusFailed
				child.ErrorDetail = detail
			}
		})
		o.debouncer.Notify()
		metrics.RecordErrorDetails("run submission", err)
		return nil, fmt.Errorf("submitting run for suite %s: %w", req.Suite, err)
	}

	o.registry.Update(req.Suite, token, func(node *types.RunNode) {
		for _, child := range node.Children {
			child.Status = types.StatusRunning
		}
	})
	o.debouncer.Notify()

	state := &runState{
		suite:   req.Suite,
		token:   token,
		applied: make(map[string]bool),
	}

	o.pollRun(ctx, req, runID, state)

	// Whatever polling never reported must not be left pending forever.
	for _, name := range req.Cases {
		if state.applied[name] {
			continue
		}
		missingErr := NewMissingResultError(name)
		o.log.Warn("Case concluded without a result", "suite", req.Suite, "case", name)
		state.stats.Total++
		state.stats.Failed++
		metrics.RecordCase(req.Suite, string(runID), "missing")
		o.registry.Update(req.Suite, token, func(node *types.RunNode) {
			if c := node.Case(name); c != nil {
				c.Status = types.StatusFailed
				c.ErrorDetail = missingErr.Error()
			}
		})
	}
	o.debouncer.Notify()

	// In-flight artifact fetches still own their cases' terminal transitions.
	state.fetches.Wait()

	status := types.StatusSuccess
	if state.stats.Failed > 0 {
		status = types.StatusFailed
	}

	o.registry.Update(req.Suite, token, func(node *types.RunNode) {
		if node.AllChildrenTerminal() {
			node.Status = node.SuiteStatusFromChildren()
		}
	})
	o.debouncer.Notify()

	duration := o.clock.Now().Sub(start)
	metrics.RecordRun(req.Suite, string(runID), string(status), duration)
	o.log.Info("Run completed", "suite", req.Suite, "run_id", runID, "status", status,
		"passed", state.stats.Passed, "failed", state.stats.Failed, "skipped", state.stats.Skipped)

	return &results.RunResult{
		Suite:    req.Suite,
		RunID:    string(runID),
		Status:   status,
		Stats:    state.stats,
		Duration: duration,
	}, nil
}

// RequestRuns executes a batch of independent runs concurrently. Each run
// proceeds regardless of what happens to its siblings; the returned slice has
// one result per request, with a synthesized failed result in place of a run
// whose submission failed. The error is the first submission failure, if any.
func (o *Orchestrator) RequestRuns(ctx context.Context, reqs []RunRequest) ([]*results.RunResult, error) {
	out := make([]*results.RunResult, len(reqs))

	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			result, err := o.RequestRun(ctx, req)
			if err != nil {
				out[i] = &results.RunResult{
					Suite:  req.Suite,
					Status: types.StatusFailed,
					Stats:  results.Stats{Total: len(req.Cases), Failed: len(req.Cases)},
				}
				return err
			}
			out[i] = result
			return nil
		})
	}

	err := g.Wait()
	return out, err
}

// pollRun polls the backend until every requested case has a result or the
// context concludes the run. Poll failures are transient: they are logged and
// retried on the next tick, never marked on any node.
func (o *Orchestrator) pollRun(ctx context.Context, req RunRequest, runID backend.RunID, state *runState) {
	requested := make(map[string]bool, len(req.Cases))
	for _, name := range req.Cases {
		requested[name] = true
	}

	ticker := o.clock.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		known, err := o.backend.PollResults(ctx, runID)
		if err != nil {
			o.log.Warn("Poll failed, retrying on next tick", "suite", req.Suite, "run_id", runID, "error", err)
			metrics.RecordPollError()
		} else {
			for _, result := range known {
				if result.Suite != req.Suite || !requested[result.Case] {
					continue
				}
				o.applyCaseResult(ctx, runID, result, state)
			}
			if len(state.applied) == len(requested) {
				return
			}
		}

		select {
		case <-ticker.Ch():
		case <-ctx.Done():
			o.log.Debug("Run concluded by context", "suite", req.Suite, "run_id", runID, "error", ctx.Err())
			return
		}
	}
}

// applyCaseResult applies one newly reported case result to the run tree.
// When the case carries an artifact id and this run wins the download guard,
// the case passes through downloading and reaches its terminal status when the
// fetch ends; otherwise it goes terminal immediately. Either way the artifact
// reference lands on the node as soon as it is reported.
func (o *Orchestrator) applyCaseResult(ctx context.Context, runID backend.RunID, result types.CaseResult, state *runState) {
	if state.applied[result.Case] {
		return
	}
	state.applied[result.Case] = true
	state.stats.Record(result.Outcome)
	metrics.RecordCase(state.suite, string(runID), string(result.Outcome))

	terminal := types.StatusFromOutcome(result.Outcome)
	detail := ""
	if terminal == types.StatusFailed {
		detail = result.Detail()
	}

	caseName := result.Case
	fetching := result.ArtifactID != "" && o.downloads.Guard().Begin(result.ArtifactID)

	if !fetching {
		o.registry.Update(state.suite, state.token, func(node *types.RunNode) {
			if c := node.Case(caseName); c != nil {
				c.ArtifactID = result.ArtifactID
				c.Status = terminal
				c.ErrorDetail = detail
			}
		})
		o.debouncer.Notify()
		return
	}

	o.registry.Update(state.suite, state.token, func(node *types.RunNode) {
		if c := node.Case(caseName); c != nil {
			c.ArtifactID = result.ArtifactID
			c.Status = types.StatusDownloading
		}
	})
	o.debouncer.Notify()

	state.fetches.Add(1)
	go func() {
		defer state.fetches.Done()
		o.downloads.FetchOwned(ctx, result.ArtifactID)
		o.registry.Update(state.suite, state.token, func(node *types.RunNode) {
			if c := node.Case(caseName); c != nil {
				c.Status = terminal
				c.ErrorDetail = detail
			}
		})
		o.debouncer.Notify()
	}()
}
