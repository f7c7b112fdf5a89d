package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/panbanda/deadpy/internal/cache"
	"github.com/panbanda/deadpy/internal/output"
	"github.com/panbanda/deadpy/internal/service/analysis"
	"github.com/urfave/cli/v2"
)

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the report cache",
		Subcommands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "Show report cache statistics",
				ArgsUsage: "<project_dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   "text",
						Usage:   "Output format: " + strings.Join(output.Formats, ", "),
					},
				},
				Action: runCacheStats,
			},
			{
				Name:      "clear",
				Usage:     "Remove every cached report",
				ArgsUsage: "<project_dir>",
				Action:    runCacheClear,
			},
		},
	}
}

// projectCacheDir loads the configuration for the project argument and
// returns it with the absolute cache directory.
func projectCacheDir(c *cli.Context) (string, int, bool, error) {
	dir, err := getPath(c)
	if err != nil {
		return "", 0, false, err
	}
	cfg, err := loadConfig(c, dir)
	if err != nil {
		return "", 0, false, err
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", 0, false, err
	}
	return analysis.CacheDir(cfg, root), cfg.Cache.TTL, cfg.Cache.Enabled, nil
}

func runCacheStats(c *cli.Context) error {
	format, err := output.LookupFormat(c.String("format"))
	if err != nil {
		return err
	}
	dir, ttl, enabled, err := projectCacheDir(c)
	if err != nil {
		return err
	}

	store, err := cache.New(dir, ttl, enabled)
	if err != nil {
		return err
	}
	if !store.Enabled() {
		diagnostics(c).Warning("Report cache is disabled (cache.enabled = false)")
		return nil
	}
	stats, err := store.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	formatter := output.NewWriterFormatter(format, c.App.Writer, false)
	return formatter.Output(output.NewTable(
		fmt.Sprintf("Report cache (%s)", dir),
		[]string{"Entries", "Size (bytes)", "Oldest", "Newest"},
		[][]string{{
			strconv.Itoa(stats.Entries),
			strconv.FormatInt(stats.TotalSize, 10),
			stats.OldestAge.Round(time.Second).String(),
			stats.NewestAge.Round(time.Second).String(),
		}},
		nil,
		stats,
	))
}

// runCacheClear clears the cache even when caching is turned off, so
// entries left from earlier runs can still be removed.
func runCacheClear(c *cli.Context) error {
	dir, ttl, _, err := projectCacheDir(c)
	if err != nil {
		return err
	}
	store, err := cache.New(dir, ttl, true)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	output.NewWriterFormatter(output.FormatText, c.App.Writer, false).Success("Cleared %s", dir)
	return nil
}
