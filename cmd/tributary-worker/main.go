// Package main provides the entry point for the Tributary export worker. The
// worker receives document mutations, dispatches the task queues and appends
// change records to the Iceberg changelog.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/janovincze/tributary/internal/app"
	"github.com/janovincze/tributary/internal/config"
	"github.com/janovincze/tributary/internal/database"
	"github.com/janovincze/tributary/internal/ingress"
)

func main() {
	logger := app.NewLogger(os.Getenv("TRIBUTARY_LOG_LEVEL"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(ctx, logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting Tributary export worker",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"collection", cfg.Export.CollectionPath,
		"instance_id", cfg.Export.InstanceID,
	)

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := database.Migrate(db, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if cfg.Source.WALEnabled {
		created, err := database.EnsureReplicationSlot(ctx, db, cfg.Source.SlotName, "")
		if err != nil {
			return err
		}
		if created {
			logger.Info("replication slot created", "slot", cfg.Source.SlotName)
		}
	}

	c, err := app.Build(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	defer c.Close()

	server := ingress.NewServer(ingress.ServerConfig{
		Config:        cfg,
		Logger:        logger,
		HealthManager: c.Health,
		Capturer:      c.Trigger,
		Queue:         c.Queue,
		DeadLetters:   c.DeadLetters,
		State:         c.State,
		SourceID:      app.SourceID(cfg),
		Documents:     c.Documents,
		EventStream:   eventStream(c),
	})

	if err := c.Janitor.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer c.Janitor.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Dispatcher.Run(gctx)
	})

	if c.Pipeline != nil {
		g.Go(func() error {
			if err := c.Pipeline.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("wal pipeline: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	logger.Info("export worker running",
		"listen_addr", cfg.Ingress.ListenAddr,
		"wal_enabled", cfg.Source.WALEnabled,
		"events_channel", cfg.Events.Channel,
		"max_concurrent_dispatches", cfg.Queue.MaxConcurrentDispatches,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("export worker stopped gracefully")
	return nil
}

// eventStream avoids handing the server a typed nil when events are off.
func eventStream(c *app.Components) http.Handler {
	if c.Hub == nil {
		return nil
	}
	return c.Hub
}
