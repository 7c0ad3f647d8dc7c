package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

// stdout is where progress and summaries go. Tests swap it.
var stdout io.Writer = os.Stdout

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printHeader(flows int, driver, outputDir string) {
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  %suxflow %s%s\n", color(colorBold), Version, color(colorReset))
	fmt.Fprintf(stdout, "  %sflows: %d  driver: %s  output: %s%s\n",
		color(colorGray), flows, driver, outputDir, color(colorReset))
}

// Live progress callbacks

func onFlowStart(flowIdx, totalFlows int, name string) {
	fmt.Fprintf(stdout, "\n  %s[%d/%d]%s %s%s%s\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), name, color(colorReset))
	fmt.Fprintln(stdout, strings.Repeat("─", 60))
}

func onStepComplete(idx int, desc string, passed bool, durationMs int64, errMsg string) {
	// Sleeps are slow on purpose.
	isSlow := durationMs >= slowThresholdMs && !strings.HasPrefix(desc, "sleep:")
	durStr := formatDuration(durationMs)

	if passed {
		symbol := "✓"
		symbolColor := color(colorGreen)
		durColor := ""
		if isSlow {
			durColor = color(colorYellow)
			symbol = "⚠"
			symbolColor = color(colorYellow)
		}
		fmt.Fprintf(stdout, "    %s%s%s %s %s(%s)%s\n",
			symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
		return
	}

	fmt.Fprintf(stdout, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, durStr)
	if errMsg != "" {
		fmt.Fprintf(stdout, "      %s╰─%s %s\n", color(colorGray), color(colorReset), firstLine(errMsg))
	}
}

func onFlowEnd(name string, passed bool, durationMs int64) {
	symbol, symbolColor := "✓", color(colorGreen)
	if !passed {
		symbol, symbolColor = "✗", color(colorRed)
	}
	fmt.Fprintf(stdout, "%s%s %s%s %s%s%s\n",
		symbolColor, symbol, color(colorReset), name,
		color(colorGray), formatDuration(durationMs), color(colorReset))
}

func printSummary(result *core.SuiteResult) {
	totalSteps := 0
	skippedSteps := 0
	for _, fr := range result.Flows {
		executed := fr.ExecutedSteps()
		totalSteps += executed
		skippedSteps += len(fr.Steps) - executed
	}
	durationMs := result.Duration.Milliseconds()

	fmt.Fprintln(stdout)
	tableWidth := 78
	fmt.Fprintln(stdout, strings.Repeat("═", tableWidth))
	fmt.Fprintf(stdout, "  %-42s %6s %7s %6s %10s\n", "Flow", "Status", "Steps", "Skip", "Duration")
	fmt.Fprintln(stdout, strings.Repeat("─", tableWidth))

	for _, fr := range result.Flows {
		status, statusColor := "✓ PASS", color(colorGreen)
		if !fr.Success() {
			status, statusColor = "✗ FAIL", color(colorRed)
		}
		executed := fr.ExecutedSteps()
		fmt.Fprintf(stdout, "  %-42s %s%6s%s %7d %6d %10s\n",
			truncate(flowLabel(fr), 42), statusColor, status, color(colorReset),
			executed, len(fr.Steps)-executed, formatDuration(fr.TimelapseMs))
	}

	fmt.Fprintln(stdout, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows)
	statusColor := color(colorGreen)
	if result.FailedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(stdout, "  %s%-42s%s %s%6s%s %7d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, skippedSteps, formatDuration(durationMs))
	fmt.Fprintln(stdout, strings.Repeat("═", tableWidth))

	if result.FailedFlows == 0 {
		return
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "  Failures:")
	for _, fr := range result.Flows {
		if fr.Success() {
			continue
		}
		fmt.Fprintf(stdout, "    %s✗%s %s: %s\n", color(colorRed), color(colorReset), flowLabel(fr), firstLine(fr.Error))
	}
}

func flowLabel(fr *core.FlowResult) string {
	switch {
	case fr.Name != "":
		return fr.Name
	case fr.SourcePath != "":
		return fr.SourcePath
	default:
		return fmt.Sprintf("flow-%d", fr.FlowIndex)
	}
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
