package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/janovincze/tributary/internal/config"
	"github.com/janovincze/tributary/internal/docstore"
	"github.com/janovincze/tributary/internal/export/backfill"
	"github.com/janovincze/tributary/internal/export/capture"
	"github.com/janovincze/tributary/internal/export/notify"
	"github.com/janovincze/tributary/internal/export/pipeline"
	"github.com/janovincze/tributary/internal/export/serializer"
	"github.com/janovincze/tributary/internal/export/source"
	"github.com/janovincze/tributary/internal/export/source/postgres"
	"github.com/janovincze/tributary/internal/export/syncworker"
	"github.com/janovincze/tributary/internal/health"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/retry"
	"github.com/janovincze/tributary/internal/state"
	"github.com/janovincze/tributary/internal/warehouse"
	"github.com/janovincze/tributary/internal/warehouse/catalog"
)

// Components is the assembled export pipeline.
type Components struct {
	Config *config.Config

	Queue       *queue.PostgresQueue
	DeadLetters *queue.PostgresDeadLetters
	State       *state.PostgresStore
	Documents   *docstore.PostgresStore
	Hub         *notify.Hub
	Notifier    *notify.Notifier
	Tracker     *warehouse.IcebergTracker
	Trigger     *capture.Trigger
	Dispatcher  *queue.Dispatcher
	Janitor     *queue.Janitor
	Health      *health.Manager

	// Reader and Pipeline are nil unless WAL capture is enabled.
	Reader   *postgres.Reader
	Pipeline *pipeline.Pipeline

	closers []func() error
}

// QueueConfig returns the queue settings from cfg.
func QueueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		MaxPayloadBytes: cfg.Export.MaxPayloadBytes * 2,
	}
}

// SourceID names the WAL source in checkpoints.
func SourceID(cfg *config.Config) string {
	return "wal-" + cfg.Source.SlotName
}

// Build wires every component on top of db.
func Build(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Components, error) {
	c := &Components{Config: cfg}

	c.Queue = queue.NewPostgresQueue(db, QueueConfig(cfg), logger)
	c.DeadLetters = queue.NewPostgresDeadLetters(db, logger)
	c.State = state.NewPostgresStore(db, cfg.Export.InstanceID, logger)
	c.Documents = docstore.NewPostgresStore(db, logger)
	sink := state.NewLogSink(c.State, logger)

	pub, hub, err := NewPublisher(cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	c.Hub = hub
	c.closers = append(c.closers, pub.Close)
	c.Notifier = notify.New(pub, notify.Config{
		Prefix:            cfg.Events.Prefix,
		Source:            fmt.Sprintf("//tributary/%s/%s", cfg.Export.Location, cfg.Export.InstanceID),
		AllowedEventTypes: cfg.Events.AllowedEventTypes,
		PublishTimeout:    cfg.Events.PublishTimeout,
	}, logger)

	ser := serializer.New(serializer.Config{
		MaxPayloadBytes: cfg.Export.MaxPayloadBytes,
		MaxDepth:        serializer.DefaultMaxDepth,
	})

	if err := c.buildWarehouse(cfg, db, ser, logger); err != nil {
		c.Close()
		return nil, err
	}

	c.Trigger = capture.NewTrigger(c.Queue, ser, c.Notifier, capture.Config{
		ExcludeOldData:     cfg.Export.ExcludeOldData,
		StalenessThreshold: cfg.Export.StalenessThreshold,
	}, logger)

	if err := c.buildDispatch(cfg, sink, logger); err != nil {
		c.Close()
		return nil, err
	}

	if cfg.Source.WALEnabled {
		if err := c.buildSource(cfg, logger); err != nil {
			c.Close()
			return nil, err
		}
	}

	c.buildHealth(cfg, db, logger)
	return c, nil
}

func (c *Components) buildWarehouse(cfg *config.Config, db *sql.DB, ser *serializer.Serializer, logger *slog.Logger) error {
	cat := catalog.NewRESTCatalog(catalog.Config{
		CatalogURL: cfg.Iceberg.CatalogURL,
		Warehouse:  cfg.Iceberg.Warehouse,
		Token:      cfg.Iceberg.Token,
	}, logger)
	c.closers = append(c.closers, cat.Close)

	objects, err := warehouse.NewMinIOStore(warehouse.StorageConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Region:    cfg.Storage.Region,
	}, logger)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}

	var backup warehouse.BackupStore
	if cfg.Iceberg.BackupFailedRows {
		backup = warehouse.NewPostgresBackup(db, logger)
	}

	c.Tracker = warehouse.NewIcebergTracker(cat, objects, backup, ser, warehouse.Config{
		Namespace:     cfg.Iceberg.Namespace,
		Table:         cfg.Iceberg.Table,
		ViewSuffix:    cfg.Iceberg.ViewSuffix,
		Bucket:        cfg.Storage.Bucket,
		WarehousePath: cfg.Storage.WarehousePath,
	}, logger)
	return nil
}

func (c *Components) buildDispatch(cfg *config.Config, sink state.Sink, logger *slog.Logger) error {
	backfillCfg := backfill.Config{
		DoBackfill:              cfg.Export.DoBackfill,
		ImportCollectionPath:    cfg.Export.ImportCollectionPath,
		UseCollectionGroupQuery: cfg.Export.UseCollectionGroupQuery,
		DocsPerBackfill:         cfg.Export.DocsPerBackfill,
		ProjectID:               cfg.Export.ProjectID,
	}
	if backfillCfg.ImportCollectionPath == "" {
		backfillCfg.ImportCollectionPath = cfg.Export.CollectionPath
	}

	syncWorker := syncworker.NewWorker(c.Tracker, c.Notifier, syncworker.Config{WildcardIDs: cfg.Export.WildcardIDs}, logger)
	initializer := backfill.NewInitializer(c.Tracker, c.Queue, sink, backfillCfg, logger)
	backfillWorker := backfill.NewWorker(c.Documents, c.Tracker, c.Queue, sink, c.Notifier, backfillCfg, logger)

	c.Dispatcher = queue.NewDispatcher(c.Queue, c.DeadLetters, queue.DispatcherConfig{
		MaxConcurrentDispatches: cfg.Queue.MaxConcurrentDispatches,
		MaxDispatchesPerSecond:  cfg.Queue.MaxDispatchesPerSecond,
		LeaseDuration:           cfg.Queue.LeaseDuration,
		PollInterval:            cfg.Queue.PollInterval,
		Backoff: retry.Policy{
			MaxAttempts: cfg.Queue.MaxAttempts,
			MinInterval: cfg.Queue.MinBackoff,
			MaxInterval: cfg.Queue.MaxBackoff,
			Multiplier:  cfg.Queue.BackoffMultiplier,
			Jitter:      cfg.Queue.BackoffJitter,
		},
		DeadLetterRetention: cfg.Queue.DeadLetterRetention,
		DepthInterval:       queue.DefaultDispatcherConfig().DepthInterval,
	}, logger)
	c.Dispatcher.Register(queue.QueueSync, syncWorker)
	c.Dispatcher.Register(queue.QueueInit, queue.HandlerFunc(initializer.HandleInit))
	c.Dispatcher.Register(queue.QueueSetup, queue.HandlerFunc(initializer.HandleSetup))
	c.Dispatcher.Register(queue.QueueBackfill, backfillWorker)

	janitor, err := queue.NewJanitor(c.Queue, c.DeadLetters, queue.JanitorConfig{
		Schedule:      cfg.Queue.JanitorSchedule,
		TaskRetention: cfg.Queue.TaskRetention,
	}, logger)
	if err != nil {
		return fmt.Errorf("create janitor: %w", err)
	}
	c.Janitor = janitor
	return nil
}

func (c *Components) buildSource(cfg *config.Config, logger *slog.Logger) error {
	reader, err := postgres.New(postgres.Config{
		Config:            source.Config{Name: SourceID(cfg)},
		ConnectionURL:     cfg.Database.URL(),
		SlotName:          cfg.Source.SlotName,
		DocumentsTable:    cfg.Source.DocumentsTable,
		CollectionPath:    cfg.Export.CollectionPath,
		ProjectID:         cfg.Export.ProjectID,
		ReconnectInterval: cfg.Source.ReconnectInterval,
		EventBufferSize:   postgres.DefaultConfig().EventBufferSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("create wal reader: %w", err)
	}
	c.Reader = reader

	depth := func(ctx context.Context) (int64, error) {
		return c.Queue.Depth(ctx, queue.QueueSync)
	}
	c.Pipeline = pipeline.New(reader, c.Trigger, c.State, depth, pipeline.Config{
		CheckpointInterval: cfg.Source.CheckpointInterval,
		CheckpointEnabled:  true,
		Retry: retry.Policy{
			MaxAttempts: cfg.Source.RetryMaxAttempts,
			MinInterval: cfg.Source.RetryMinInterval,
			MaxInterval: cfg.Source.RetryMaxInterval,
			Multiplier:  2.0,
		},
		Backpressure: pipeline.BackpressureConfig{
			Enabled:       cfg.Source.Backpressure.Enabled,
			HighWatermark: cfg.Source.Backpressure.HighWatermark,
			LowWatermark:  cfg.Source.Backpressure.LowWatermark,
			CheckInterval: cfg.Source.Backpressure.CheckInterval,
		},
	}, logger)
	return nil
}

func (c *Components) buildHealth(cfg *config.Config, db *sql.DB, logger *slog.Logger) {
	c.Health = health.NewManager(health.ManagerConfig{Timeout: cfg.Health.Timeout}, logger)
	c.Health.Register(health.NewDatabaseChecker("database", db.PingContext))
	c.Health.Register(health.NewQueueDepthChecker(c.Queue, queue.Names, cfg.Queue.DepthHealthThreshold))

	if c.Pipeline != nil {
		p := c.Pipeline
		c.Health.Register(health.NewComponentChecker("wal_source", func(context.Context) (health.Status, string, error) {
			if !p.IsRunning() {
				return health.StatusUnhealthy, "wal pipeline not running", nil
			}
			stats := p.Stats()
			return health.StatusHealthy, fmt.Sprintf("checkpoint at %s", stats.LastCheckpointLSN), nil
		}))
	}
}

// Close releases publishers and catalog connections.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
