package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/panbanda/deadpy/internal/output"
	"github.com/panbanda/deadpy/internal/progress"
	"github.com/panbanda/deadpy/pkg/config"
	"github.com/urfave/cli/v2"
)

// getPath returns the single project directory argument, defaulting to ".".
func getPath(c *cli.Context) (string, error) {
	switch c.NArg() {
	case 0:
		return ".", nil
	case 1:
		return c.Args().First(), nil
	default:
		return "", fmt.Errorf("expected one project directory, got %d arguments", c.NArg())
	}
}

// loadConfig loads --config, else the first config file found in dir, else
// the defaults, then applies the command's flags.
func loadConfig(c *cli.Context, dir string) (*config.Config, error) {
	result, err := config.LoadOrDefault(c.String("config"), dir)
	if err != nil {
		return nil, err
	}
	cfg := result.Config
	if c.Bool("verbose") && result.Source != "" {
		diagnostics(c).Success("Using config %s", result.Source)
	}

	if excludes := c.StringSlice("exclude"); len(excludes) > 0 {
		cfg.Scan.ExcludeDirs = append(cfg.Scan.ExcludeDirs, excludes...)
	}
	if c.IsSet("wildcard") {
		cfg.Imports.Wildcard = c.String("wildcard")
	}
	if c.IsSet("on-parse-error") {
		cfg.Errors.OnParseError = c.String("on-parse-error")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("gitignore") {
		cfg.Scan.Gitignore = c.Bool("gitignore")
	}
	if c.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if c.Bool("no-color") {
		cfg.Output.Color = false
	}
	if c.Bool("verbose") {
		cfg.Output.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// scanFlags are the flags shared by every command that analyzes a project.
func scanFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "Additional directory names to skip",
		},
		&cli.StringFlag{
			Name:  "on-parse-error",
			Usage: "What to do with unparsable files: skip or abort",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Files processed concurrently (0 = 2x CPUs)",
		},
		&cli.BoolFlag{
			Name:  "gitignore",
			Usage: "Also skip paths ignored by .gitignore",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "Disable colored output",
		},
	}
}

func colored(c *cli.Context, cfg *config.Config) bool {
	return cfg.Output.Color && !color.NoColor && c.App.Writer == os.Stdout
}

// diagnostics writes warnings and status lines to stderr.
func diagnostics(c *cli.Context) *output.Formatter {
	return output.NewWriterFormatter(output.FormatText, c.App.ErrWriter, !color.NoColor && c.App.ErrWriter == os.Stderr)
}

// stages returns a progress reporter that draws only on an interactive stderr.
func stages(c *cli.Context) *progress.Stages {
	enabled := !c.Bool("no-progress") && c.App.ErrWriter == os.Stderr && isatty.IsTerminal(os.Stderr.Fd())
	return progress.NewStagesWriter(c.App.ErrWriter, enabled)
}

// newFormatter writes to file, or to the app's writer when file is empty or "-".
func newFormatter(c *cli.Context, format output.Format, file string, colored bool) (*output.Formatter, error) {
	if file == "" || file == "-" {
		return output.NewWriterFormatter(format, c.App.Writer, colored), nil
	}
	return output.NewFormatter(format, file, colored)
}
