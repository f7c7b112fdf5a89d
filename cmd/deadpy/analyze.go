package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/panbanda/deadpy/internal/output"
	"github.com/panbanda/deadpy/internal/service/analysis"
	"github.com/panbanda/deadpy/pkg/analyzer/liveness"
	"github.com/panbanda/deadpy/pkg/config"
	"github.com/urfave/cli/v2"
)

func analyzeCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   `Report file ("-" for stdout; default from config: dead_code_report.txt)`,
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: " + strings.Join(output.Formats, ", "),
		},
		&cli.StringFlag{
			Name:  "wildcard",
			Usage: "Wildcard import resolution: ordered or complete",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "Disable the report cache",
		},
		&cli.BoolFlag{
			Name:  "summary",
			Usage: "Print a summary table after the report is written",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Re-run the analysis whenever a .py file changes",
		},
	}

	return &cli.Command{
		Name:      "analyze",
		Usage:     "Report unused functions, methods and classes",
		ArgsUsage: "<project_dir>",
		Flags:     append(flags, scanFlags()...),
		Action:    runAnalyzeCmd,
	}
}

func runAnalyzeCmd(c *cli.Context) error {
	dir, err := getPath(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, dir)
	if err != nil {
		return err
	}

	format := cfg.Output.Format
	if c.IsSet("format") {
		format = c.String("format")
	}
	if _, err := output.LookupFormat(format); err != nil {
		return err
	}
	file := cfg.Output.File
	if c.IsSet("output") {
		file = c.String("output")
	}

	if err := analyzeOnce(c.Context, c, cfg, dir, format, file); err != nil {
		return err
	}
	if !c.Bool("watch") {
		return nil
	}
	return watchProject(c, cfg, dir, func(ctx context.Context) error {
		return analyzeOnce(ctx, c, cfg, dir, format, file)
	})
}

func analyzeOnce(ctx context.Context, c *cli.Context, cfg *config.Config, dir, format, file string) error {
	tracker := stages(c)
	svc := analysis.New(analysis.WithConfig(cfg), analysis.WithProgress(tracker))
	result, err := svc.AnalyzeDeadCode(ctx, dir)
	tracker.Finish(err)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	diag := diagnostics(c)
	if cfg.Output.Verbose {
		if result.Cached {
			diag.Success("Using cached report")
		}
		for _, s := range result.Report.Skipped {
			diag.Warning("skipped %s: %s", s.Path, s.Reason)
		}
	}

	formatter, err := newFormatter(c, output.ParseFormat(format), file, colored(c, cfg))
	if err != nil {
		return err
	}
	if err := formatter.Output(result.Report); err != nil {
		formatter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := formatter.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	status := output.NewWriterFormatter(output.FormatText, c.App.Writer, colored(c, cfg))
	if formatter.ToFile() {
		status.Success("Analysis complete. Report saved to %s", file)
	}
	if c.Bool("summary") {
		return status.Output(summaryTable(result.Report))
	}
	return nil
}

func summaryTable(r *liveness.Report) *output.Table {
	s := r.Summary
	return output.NewTable(
		"Summary",
		[]string{"Kind", "Declared", "Unused"},
		[][]string{
			{"Functions", strconv.Itoa(s.Functions), strconv.Itoa(s.UnusedFunctions)},
			{"Methods", strconv.Itoa(s.Methods), strconv.Itoa(s.UnusedMethods)},
			{"Classes", strconv.Itoa(s.Classes), strconv.Itoa(s.UnusedClasses)},
		},
		[]string{fmt.Sprintf("%d files", s.FilesAnalyzed), fmt.Sprintf("%d skipped", s.FilesSkipped), ""},
		s,
	)
}
