package main

import (
	"fmt"
	"strings"

	"github.com/panbanda/deadpy/internal/output"
	"github.com/panbanda/deadpy/internal/service/analysis"
	"github.com/urfave/cli/v2"
)

func callgraphCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   "dot",
			Usage:   "Output format: dot, mermaid, " + strings.Join(output.Formats, ", "),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write output to file",
		},
		&cli.StringSliceFlag{
			Name:  "entry",
			Usage: "Entry point for reachability, by name (func, Class.method) or node ID",
		},
	}

	return &cli.Command{
		Name:      "callgraph",
		Aliases:   []string{"cg"},
		Usage:     "Build the project call graph",
		ArgsUsage: "<project_dir>",
		Flags:     append(flags, scanFlags()...),
		Action:    runCallgraphCmd,
	}
}

func runCallgraphCmd(c *cli.Context) error {
	dir, err := getPath(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, dir)
	if err != nil {
		return err
	}

	format := strings.ToLower(c.String("format"))
	if format != "dot" && format != "mermaid" {
		if _, err := output.LookupFormat(format); err != nil {
			return err
		}
	}

	tracker := stages(c)
	svc := analysis.New(analysis.WithConfig(cfg), analysis.WithProgress(tracker))
	g, err := svc.AnalyzeCallGraph(c.Context, dir, analysis.CallGraphOptions{Entries: c.StringSlice("entry")})
	tracker.Finish(err)
	if err != nil {
		return fmt.Errorf("call graph failed: %w", err)
	}

	if cfg.Output.Verbose {
		diag := diagnostics(c)
		for _, s := range g.Skipped {
			diag.Warning("skipped %s: %s", s.Path, s.Reason)
		}
	}

	formatter, err := newFormatter(c, output.ParseFormat(format), c.String("output"), colored(c, cfg))
	if err != nil {
		return err
	}
	defer formatter.Close()

	switch format {
	case "dot":
		err = g.WriteDOT(formatter.Writer())
	case "mermaid":
		err = g.WriteMermaid(formatter.Writer())
	default:
		err = formatter.Output(g)
	}
	if err != nil {
		return fmt.Errorf("failed to write call graph: %w", err)
	}
	return nil
}
