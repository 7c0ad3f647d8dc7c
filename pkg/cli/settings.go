package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uxflow/pkg/config"
)

// Flags shared by the commands that execute flows.
var executionFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  "parallel",
		Usage: "Run up to N flows concurrently, each in its own session",
	},
	&cli.IntFlag{
		Name:  "step-delay",
		Usage: "Pause after every step in ms (0 = none, default 1000)",
	},
	&cli.IntFlag{
		Name:  "timeout",
		Usage: "Element wait timeout in ms (default 10000)",
	},
	&cli.StringFlag{
		Name:  "output",
		Usage: "Artifact root directory (default: <home>/output)",
	},

	// Browser driver
	&cli.BoolFlag{
		Name:  "headless",
		Usage: "Run the browser headless (default true)",
	},
	&cli.StringFlag{
		Name:    "control-url",
		Usage:   "Attach to a running browser instead of launching one",
		EnvVars: []string{"UXFLOW_CONTROL_URL"},
	},
	&cli.StringFlag{
		Name:  "browser-bin",
		Usage: "Browser binary to launch",
	},
	&cli.StringFlag{
		Name:  "user-agent",
		Usage: "User-Agent header for every session",
	},
	&cli.BoolFlag{
		Name:  "disable-cache",
		Usage: "Disable the HTTP cache",
	},

	// Result sinks
	&cli.StringFlag{
		Name:  "sqlite",
		Usage: "Store results in this SQLite database",
	},
	&cli.StringFlag{
		Name:    "postgres",
		Usage:   "Store results in this PostgreSQL database (DSN)",
		EnvVars: []string{"UXFLOW_POSTGRES_DSN"},
	},
	&cli.StringFlag{
		Name:  "xlsx",
		Usage: "Append results to this spreadsheet",
	},
	&cli.BoolFlag{
		Name:  "publish",
		Usage: "Publish every result to the message queue",
	},
	&cli.StringFlag{
		Name:    "amqp-url",
		Usage:   "AMQP broker URL",
		EnvVars: []string{"AMQP_URL"},
	},
}

// loadConfig reads the workspace config (--config, or uxflow.yaml in the
// working directory) and applies command-line overrides on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag set on the command line. Flags
// the command does not define are never set, so one function serves all
// commands.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("driver") {
		cfg.Driver = c.String("driver")
	}
	if c.IsSet("include-tags") {
		cfg.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		cfg.ExcludeTags = c.StringSlice("exclude-tags")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("parallel") {
		cfg.Parallelism = c.Int("parallel")
	}
	if c.IsSet("step-delay") {
		delay := c.Int("step-delay")
		cfg.StepDelayMs = &delay
	}
	if c.IsSet("timeout") {
		cfg.TimeoutMs = c.Int("timeout")
	}

	if c.IsSet("headless") {
		headless := c.Bool("headless")
		cfg.Browser.Headless = &headless
	}
	if c.IsSet("control-url") {
		cfg.Browser.ControlURL = c.String("control-url")
	}
	if c.IsSet("browser-bin") {
		cfg.Browser.Bin = c.String("browser-bin")
	}
	if c.IsSet("user-agent") {
		cfg.Browser.UserAgent = c.String("user-agent")
	}
	if c.IsSet("disable-cache") {
		cfg.Browser.DisableCache = c.Bool("disable-cache")
	}

	if c.IsSet("sqlite") {
		cfg.Sinks.SQLitePath = c.String("sqlite")
	}
	if c.IsSet("postgres") {
		cfg.Sinks.PostgresDSN = c.String("postgres")
	}
	if c.IsSet("xlsx") {
		cfg.Sinks.XLSXPath = c.String("xlsx")
	}
	if c.IsSet("publish") {
		cfg.Sinks.Queue = c.Bool("publish")
	}
	if c.IsSet("amqp-url") {
		cfg.AMQP.URL = c.String("amqp-url")
	}
	if c.IsSet("prefetch") {
		cfg.AMQP.Prefetch = c.Int("prefetch")
	}
	if c.IsSet("addr") {
		cfg.HTTP.Addr = c.String("addr")
	}
}
