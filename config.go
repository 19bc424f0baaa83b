package remrun

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/remrun/remrun/flags"
)

// Config holds the application configuration
type Config struct {
	BackendURL     string
	PlanFile       string
	RunInterval    time.Duration // Interval between plan executions
	RunOnce        bool          // Indicates if the service should exit after one plan execution
	RunTimeout     time.Duration // Deadline for a single run; concludes polling for cases that never report
	PollInterval   time.Duration // Interval between result polls
	DebounceWindow time.Duration // Quiet window for change notifications
	RequestTimeout time.Duration // HTTP timeout for individual backend requests
	Log            log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, backendURL string, planFile string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if backendURL == "" {
		return nil, errors.New("backend URL is required")
	}
	if planFile == "" {
		return nil, errors.New("run plan file is required")
	}

	absPlanFile, err := filepath.Abs(planFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for plan file '%s': %w", planFile, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	return &Config{
		BackendURL:     backendURL,
		PlanFile:       absPlanFile,
		RunInterval:    runInterval,
		RunOnce:        runOnce,
		RunTimeout:     ctx.Duration(flags.RunTimeout.Name),
		PollInterval:   ctx.Duration(flags.PollInterval.Name),
		DebounceWindow: ctx.Duration(flags.DebounceWindow.Name),
		RequestTimeout: ctx.Duration(flags.RequestTimeout.Name),
		Log:            log,
	}, nil
}
