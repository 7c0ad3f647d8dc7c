package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uxflow/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flow files without running them",
	ArgsUsage: "<flow-file-or-folder>...",
	Flags:     tagFlags,
	Action:    validateFlows,
}

func validateFlows(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	paths := cfg.Flows
	if c.NArg() > 0 {
		paths = c.Args().Slice()
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags).WithFuncs()
	valid, failed := 0, 0
	for _, path := range paths {
		result := v.Validate(path)
		for i, file := range result.Files {
			fmt.Fprintf(stdout, "  %s✓%s %s %s(%d steps)%s\n",
				color(colorGreen), color(colorReset), file,
				color(colorGray), len(result.Flows[i].Steps), color(colorReset))
		}
		for _, err := range result.Errors {
			fmt.Fprintf(stdout, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		valid += len(result.Files)
		failed += len(result.Errors)
	}

	fmt.Fprintf(stdout, "\n  %d valid flow(s), %d error(s)\n", valid, failed)
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}
