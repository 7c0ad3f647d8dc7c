package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uxflow/pkg/artifact"
	"github.com/devicelab-dev/uxflow/pkg/config"
	"github.com/devicelab-dev/uxflow/pkg/executor"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/validator"
)

var tagFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "include-tags",
		Usage: "Only include flows with these tags",
	},
	&cli.StringSliceFlag{
		Name:  "exclude-tags",
		Usage: "Exclude flows with these tags",
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run flows and record a result per flow",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run one or more flow files. Paths default to the flows listed in
uxflow.yaml.

Artifacts are written to the output directory:
  - Default: <home>/output/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  uxflow run flow.yaml
  uxflow run flows/ --include-tags smoke
  uxflow run flows/ --parallel 4 --sqlite results.db
  uxflow --driver static run flows/ --step-delay 0`,
	Flags: append(append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
	}, tagFlags...), executionFlags...),
	Action: runFlows,
}

func runFlows(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.NArg() > 0 {
		cfg.Flows = c.Args().Slice()
	}
	if len(cfg.Flows) == 0 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	if c.Bool("flatten") && cfg.Output == "" {
		return fmt.Errorf("--flatten requires --output to be specified")
	}
	outputDir := resolveOutputDir(cfg.OutputDir(), c.Bool("flatten"), time.Now())

	return executeRun(c.Context, cfg, outputDir, c.Bool("verbose"))
}

// resolveOutputDir determines the output directory for one run.
// - flatten: <base>/
// - otherwise: <base>/<timestamp>/
func resolveOutputDir(base string, flatten bool, now time.Time) string {
	if flatten {
		return filepath.Clean(base)
	}
	return filepath.Join(base, now.Format("2006-01-02_15-04-05"))
}

func executeRun(ctx context.Context, cfg *config.Config, outputDir string, verbose bool) error {
	// 1. Create output directory
	artifacts, err := artifact.NewFileSink(outputDir)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	logPath := filepath.Join(outputDir, "uxflow.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(stdout, "Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	logger.Info("=== Flow execution started ===")
	logger.Info("Output directory: %s", outputDir)
	logger.Info("Driver: %s", cfg.DriverName())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Validate and parse flows
	flows, err := validateAndParseFlows(cfg, stdout)
	if err != nil {
		logger.Error("Flow validation failed: %v", err)
		return err
	}
	logger.Info("Validated %d flow(s)", len(flows))

	printHeader(len(flows), cfg.DriverName(), outputDir)

	// 4. Start the driver and open result sinks
	st, err := openStack(ctx, cfg, runLogger(verbose), false)
	if err != nil {
		logger.Error("Setup failed: %v", err)
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Shutdown: %v", err)
		}
	}()

	// 5. Execute flows
	rc := runnerConfig(cfg, st.sinks)
	rc.Artifacts = artifacts
	rc.OnFlowStart = onFlowStart
	rc.OnStepComplete = onStepComplete
	rc.OnFlowEnd = onFlowEnd

	result, runErr := executor.New(st.sessions, rc).Run(ctx, flows)
	logger.Info("Flow execution completed: %d passed, %d failed",
		result.PassedFlows, result.FailedFlows)

	// 6. Summary
	printSummary(result)
	fmt.Fprintf(stdout, "\n  Artifacts: %s\n\n", outputDir)

	if runErr != nil {
		logger.Error("Flow execution interrupted: %v", runErr)
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	// Exit with code 1 if any flows failed (summary already printed)
	if !result.Success() {
		return cli.Exit("", 1)
	}
	return nil
}

// validateAndParseFlows validates every configured path and returns the
// matching flows numbered in execution order.
func validateAndParseFlows(cfg *config.Config, out io.Writer) ([]*flow.Flow, error) {
	// No Go hooks are registered from the command line.
	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags).WithFuncs()

	var flows []*flow.Flow
	var errs []error
	for _, path := range cfg.Flows {
		result := v.Validate(path)
		flows = append(flows, result.Flows...)
		errs = append(errs, result.Errors...)
	}

	if len(errs) > 0 {
		fmt.Fprintln(out)
		for _, err := range errs {
			fmt.Fprintf(out, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		return nil, fmt.Errorf("validation failed: %d error(s)", len(errs))
	}
	if len(flows) == 0 {
		return nil, fmt.Errorf("no flows matched %v", cfg.Flows)
	}

	if err := flow.AssignIndexes(flows); err != nil {
		return nil, err
	}
	return flows, nil
}

// runLogger is the structured logger handed to queue clients during a
// run. It writes to the run's log file.
func runLogger(verbose bool) *slog.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	return logger.NewSlog(logger.GetWriter(), level, "text")
}
