package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/panbanda/deadpy/pkg/config"
	"github.com/panbanda/deadpy/pkg/watch"
	"github.com/urfave/cli/v2"
)

// watchProject calls run after every batch of .py changes under dir until
// interrupted. A failed run is reported and watching continues. run gets a
// context that is cancelled on interrupt, so an in-flight run stops too.
func watchProject(c *cli.Context, cfg *config.Config, dir string, run func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.NewWatcher(dir, cfg, 0)
	if err != nil {
		return err
	}
	defer w.Stop()

	w.SetOutput(c.App.ErrWriter)
	w.SetCallback(func(_ []string) {
		if err := run(ctx); err != nil && ctx.Err() == nil {
			diagnostics(c).Error("%v", err)
		}
	})

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
