package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "REMRUN"

var (
	BackendURL = &cli.StringFlag{
		Name:     "backend-url",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "BACKEND_URL"),
		Usage:    "Base URL of the test execution backend (eg. 'http://localhost:9000')",
	}
	PlanFile = &cli.StringFlag{
		Name:     "plan",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "PLAN"),
		Usage:    "Path to run plan file (eg. 'plan.yaml')",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between plan executions (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	RunTimeout = &cli.DurationFlag{
		Name:    "run-timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_TIMEOUT"),
		Usage:   "Deadline for a single suite run; cases without a result by then are marked failed",
	}
	PollInterval = &cli.DurationFlag{
		Name:    "poll-interval",
		Value:   2 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "POLL_INTERVAL"),
		Usage:   "Interval between result polls",
	}
	DebounceWindow = &cli.DurationFlag{
		Name:    "debounce-window",
		Value:   100 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEBOUNCE_WINDOW"),
		Usage:   "Quiet window for collapsing change notifications",
	}
	RequestTimeout = &cli.DurationFlag{
		Name:    "request-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REQUEST_TIMEOUT"),
		Usage:   "HTTP timeout for individual backend requests",
	}
)

var requiredFlags = []cli.Flag{
	BackendURL,
	PlanFile,
}

var optionalFlags = []cli.Flag{
	RunInterval,
	RunTimeout,
	PollInterval,
	DebounceWindow,
	RequestTimeout,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
