package remrun

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/remrun/remrun/results"
	"github.com/remrun/remrun/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(runs []*types.RunNode, summary results.Summary) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
	}
}

// FormatResults formats and displays the state of all run trees plus the
// aggregate summary.
func (f *ConsoleResultFormatter) FormatResults(runs []*types.RunNode, summary results.Summary) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Test Run Results (%s)", formatDuration(summary.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Cases", "Passed", "Failed", "Status", "Artifact", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Cases", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, suite := range runs {
		passed, failed := 0, 0
		for _, c := range suite.Children {
			if c.Status == types.StatusSuccess {
				passed++
			}
			if c.Status == types.StatusFailed {
				failed++
			}
		}

		t.AppendRow(table.Row{
			"Suite",
			suite.Name,
			len(suite.Children),
			passed,
			failed,
			getStatusString(suite.Status),
			"",
			firstLine(suite.ErrorDetail),
		})

		for i, c := range suite.Children {
			prefix := "├──"
			if i == len(suite.Children)-1 {
				prefix = "└──"
			}
			t.AppendRow(table.Row{
				"Case",
				fmt.Sprintf("%s %s", prefix, c.Name),
				1,
				boolToInt(c.Status == types.StatusSuccess),
				boolToInt(c.Status == types.StatusFailed),
				getStatusString(c.Status),
				c.ArtifactID,
				firstLine(c.ErrorDetail),
			})
		}

		t.AppendSeparator()
	}

	if summary.Status == types.StatusSuccess {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		summary.Stats.Total,
		summary.Stats.Passed,
		summary.Stats.Failed,
		getStatusString(summary.Status),
		"",
		"",
	})

	t.Render()
	return nil
}

// firstLine truncates a failure detail to something table-friendly
func firstLine(detail string) string {
	if idx := strings.Index(detail, "\n"); idx != -1 {
		detail = detail[:idx]
	}
	if len(detail) > 80 {
		return detail[:70] + "..."
	}
	return detail
}

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getStatusString returns a short string representing a node status
func getStatusString(status types.NodeStatus) string {
	switch status {
	case types.StatusSuccess:
		return "✓ success"
	case types.StatusFailed:
		return "✗ failed"
	case types.StatusDownloading:
		return "… downloading"
	case types.StatusRunning:
		return "… running"
	default:
		return "· pending"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
