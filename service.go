package remrun

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/remrun/remrun/backend"
	"github.com/remrun/remrun/exitcodes"
	"github.com/remrun/remrun/plan"
	"github.com/remrun/remrun/results"
	"github.com/remrun/remrun/types"
)

// driver implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &driver{}

// driver is the remrun service: it executes the run plan against the backend
// once or on an interval, and prints the reconciled results.
type driver struct {
	ctx          context.Context
	config       *Config
	version      string
	orchestrator *Orchestrator
	formatter    ResultFormatter
	scheduler    *RunScheduler
	requests     []RunRequest
	summary      *results.Summary

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*driver, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating remrun driver with config",
		"backendURL", config.BackendURL,
		"planFile", config.PlanFile,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"pollInterval", config.PollInterval)

	p, err := plan.Load(config.PlanFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load run plan: %w", err)
	}

	requests := make([]RunRequest, 0, len(p.Runs))
	for _, spec := range p.Runs {
		requests = append(requests, RunRequest{Suite: spec.Suite, Cases: spec.Cases})
	}

	client, err := backend.NewHTTPClient(backend.HTTPConfig{
		BaseURL: config.BackendURL,
		Timeout: config.RequestTimeout,
		Log:     config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Backend:        client,
		Log:            config.Log,
		PollInterval:   config.PollInterval,
		DebounceWindow: config.DebounceWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	config.Log.Info("remrun.New: created backend client and orchestrator", "runs", len(requests))

	return &driver{
		ctx:              ctx,
		config:           config,
		version:          version,
		orchestrator:     orchestrator,
		formatter:        NewConsoleResultFormatter(config.Log),
		scheduler:        NewRunScheduler(config.RunInterval, config.RunOnce, config.Log),
		requests:         requests,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Orchestrator exposes the underlying orchestrator, e.g. for a UI layer to
// subscribe to change notifications and read run snapshots.
func (d *driver) Orchestrator() *Orchestrator {
	return d.orchestrator
}

// Start executes the run plan, periodically when an interval is configured.
// Start implements the cliapp.Lifecycle interface.
func (d *driver) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			d.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	d.ctx = ctx

	if d.config.RunOnce {
		d.config.Log.Info("Starting remrun in run-once mode")
	} else {
		d.config.Log.Info("Starting remrun in continuous mode", "interval", d.config.RunInterval)
	}

	d.scheduler.RegisterCallback(d.executePlan)
	if err := d.scheduler.Start(ctx); err != nil {
		d.config.Log.Error("Runtime error executing plan", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if d.config.RunOnce {
		d.config.Log.Info("Plan executed, exiting (run-once mode)")

		if d.summary != nil && d.summary.Status == types.StatusFailed {
			d.config.Log.Warn("Run-once plan execution completed with failures, returning exit code 1")
			return NewTestFailureError(d.summary.String())
		}

		// Only need to call this when we're in run-once mode and all runs passed
		go func() {
			d.shutdownCallback(nil)
		}()
		return nil
	}

	d.config.Log.Debug("remrun started successfully")
	return nil
}

// executePlan runs every request in the plan concurrently and reconciles the
// individual run results into one summary.
func (d *driver) executePlan() error {
	ctx := d.ctx
	if d.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(d.ctx, d.config.RunTimeout)
		defer cancel()
	}

	batchID := uuid.New().String()
	d.config.Log.Info("Executing run plan", "batch_id", batchID, "runs", len(d.requests))

	runResults, err := d.orchestrator.RequestRuns(ctx, d.requests)
	if err != nil {
		// Submission failures are already reflected as failed runs in the
		// results; nothing aborts here.
		d.config.Log.Error("One or more runs could not be submitted", "batch_id", batchID, "error", err)
	}

	combined := make([]results.RunResult, 0, len(runResults))
	for _, r := range runResults {
		if r != nil {
			combined = append(combined, *r)
		}
	}
	summary := results.Combine(combined)
	d.summary = &summary

	d.orchestrator.Flush()
	if err := d.formatter.FormatResults(d.orchestrator.Runs(), summary); err != nil {
		d.config.Log.Error("Error formatting results", "error", err)
	}
	fmt.Println(summary.String())

	d.config.Log.Info("Plan execution completed", "batch_id", batchID, "status", summary.Status)
	return nil
}

// Stop stops the remrun service.
// Stop implements the cliapp.Lifecycle interface.
func (d *driver) Stop(ctx context.Context) error {
	d.config.Log.Info("Stopping remrun")

	if err := d.scheduler.Stop(); err != nil {
		return err
	}
	d.orchestrator.Flush()

	d.config.Log.Info("remrun stopped successfully")
	return nil
}

// Stopped returns true if the remrun service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (d *driver) Stopped() bool {
	return d.scheduler.Stopped()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (d *driver) WaitForShutdown(ctx context.Context) error {
	return d.scheduler.WaitForShutdown(ctx)
}
