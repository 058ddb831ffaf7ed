package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docqa/app/server"
	"docqa/loader/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the watch directory ingester when enabled)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("closing components", "err", err)
		}
	}()

	if cfg.Ingest.RestoreOnStart {
		if _, err := e.registry.Restore(ctx); err != nil {
			logger.Warn("restoring documents", "err", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.NewServer(cfg, e.registry, logger).Run(ctx)
	})
	if cfg.Watch.Enabled {
		g.Go(func() error {
			return service.New(cfg.Watch, e.registry, logger).Run(ctx)
		})
	}
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
