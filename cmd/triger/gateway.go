package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"triger/internal/app"
	"triger/internal/config"
	"triger/internal/dedup"
	"triger/internal/metrics"
	"triger/internal/transport/cli"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the dispatcher with all enabled transports",
		Long:  "Connects the enabled transports (WhatsApp bridge, Telegram) and dispatches their messages to commands. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Run commands from the terminal as the bot's own account",
		RunE:  runChat,
	}
}

// startCore sets up logging, wires the services, feeds their events into
// the metrics registry and seeds the settings store from the environment.
func startCore(ctx context.Context, cfg *config.Config) (*app.Container, func(), error) {
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	c, err := app.New(cfg, logger, buildInfo())
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	metrics.Attach(c.Events())
	cleanup := func() {
		if err := c.Close(); err != nil {
			logger.Warn("close store", "err", err)
		}
		closeLog()
	}

	n, err := config.SeedFromEnv(ctx, c.Store(), logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("seed settings: %w", err)
	}
	if n > 0 {
		logger.Info("settings seeded from environment", "count", n)
	}
	return c, cleanup, nil
}

func newSweeper(c *app.Container, cfg *config.Config) (*dedup.Sweeper, error) {
	return dedup.NewSweeper(c.DedupCache(), cfg.Dispatch.SweepSchedule, logger, func(size int) {
		metrics.DedupEntries.Set(int64(size))
	})
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, cleanup, err := startCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	c.Bootstrap().Attach(ctx, c.Events())

	sweeper, err := newSweeper(c, cfg)
	if err != nil {
		return err
	}

	transports := app.Transports(cfg, c.Events(), logger)
	if len(transports) == 0 {
		logger.Warn("no transports enabled; use 'triger chat' to run commands locally")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Dispatcher().Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, cfg.Metrics.Endpoint, logger) })
	}
	for _, t := range transports {
		t := t
		g.Go(func() error {
			// A transport that gives up (e.g. logged out) does not stop the others.
			if err := t.Start(gctx, c.Inbound()); err != nil {
				logger.Error("transport stopped", "transport", t.Name(), "err", err)
			}
			return nil
		})
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "transports", len(transports), "commands", c.Registry().Len())

	err = g.Wait()
	logger.Info("shutting down gateway...")
	for _, t := range transports {
		if stopErr := t.Stop(); stopErr != nil {
			logger.Warn("transport stop", "transport", t.Name(), "err", stopErr)
		}
	}
	logger.Info("shutdown complete")
	return err
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Transports.CLI.Enabled {
		return fmt.Errorf("cli transport is disabled (transports.cli.enabled)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, cleanup, err := startCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := config.NewSnapshotSource(c.Store()).Current(ctx)
	if err != nil {
		return err
	}
	sweeper, err := newSweeper(c, cfg)
	if err != nil {
		return err
	}

	// The sweeper runs until the dispatcher has drained the bus.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		return c.Dispatcher().Run(gctx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })

	term := cli.New(cli.Config{BotName: snap.BotName, Logger: logger})
	done := make(chan error, 1)
	go func() { done <- term.Start(ctx, c.Inbound()) }()

	var termErr error
	select {
	case termErr = <-done:
	case <-ctx.Done():
	}
	// Closing the bus lets the dispatcher drain queued lines before it returns.
	c.Inbound().Close()

	if err := g.Wait(); err != nil {
		return err
	}
	return termErr
}
