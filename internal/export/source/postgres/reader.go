package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xataio/pgstream/pkg/wal"
	"github.com/xataio/pgstream/pkg/wal/listener"
	pglistener "github.com/xataio/pgstream/pkg/wal/listener/postgres"
	pgreplication "github.com/xataio/pgstream/pkg/wal/replication/postgres"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/source"
)

// Reader is a mutation source that follows the documents table through
// logical replication.
type Reader struct {
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	listener listener.Listener
	started  bool
	lastLSN  string

	mutations chan export.Mutation
	errors    chan error
	stopOnce  sync.Once
}

// New creates a new reader with the given configuration.
func New(cfg Config, logger *slog.Logger) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultConfig().EventBufferSize
	}
	if cfg.DocumentsTable == "" {
		cfg.DocumentsTable = DefaultConfig().DocumentsTable
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{
		config:    cfg,
		logger:    logger.With("component", "wal-reader", "source", cfg.Name),
		mutations: make(chan export.Mutation, cfg.EventBufferSize),
		errors:    make(chan error, 1),
	}, nil
}

// Start begins streaming mutations.
func (r *Reader) Start(ctx context.Context) (<-chan export.Mutation, <-chan error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		r.sendError(ErrAlreadyStarted)
		return r.mutations, r.errors
	}
	r.started = true
	r.lastLSN = r.config.StartLSN
	r.mu.Unlock()

	go r.run(ctx)

	return r.mutations, r.errors
}

// Stop closes the replication listener and the mutation channel.
func (r *Reader) Stop(context.Context) error {
	r.mu.RLock()
	started := r.started
	l := r.listener
	r.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	var err error
	r.stopOnce.Do(func() {
		if l != nil {
			err = l.Close()
		}
	})
	return err
}

// LastLSN returns the last processed WAL position.
func (r *Reader) LastLSN() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLSN
}

// Name returns the name of this source.
func (r *Reader) Name() string {
	return r.config.Name
}

func (r *Reader) run(ctx context.Context) {
	defer close(r.mutations)

	for {
		err := r.listen(ctx)
		if ctx.Err() != nil {
			r.logger.Info("reader stopped", "reason", ctx.Err())
			return
		}
		if err == nil {
			return
		}

		r.logger.Error("replication failed, reconnecting", "error", err, "interval", r.config.ReconnectInterval)
		r.sendError(err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.config.ReconnectInterval):
		}
	}
}

func (r *Reader) listen(ctx context.Context) error {
	r.logger.Info("starting WAL reader",
		"slot", r.config.SlotName,
		"table", r.config.DocumentsTable,
		"collection", r.config.CollectionPath,
	)

	handler, err := pgreplication.NewHandler(ctx, pgreplication.Config{
		PostgresURL:         r.config.ConnectionURL,
		ReplicationSlotName: r.config.SlotName,
		IncludeTables:       []string{r.config.DocumentsTable},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer handler.Close()

	l := pglistener.New(handler, r.processWALEvent)
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()

	if err := l.Listen(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrReplicationFailed, err)
	}
	return nil
}

func (r *Reader) processWALEvent(ctx context.Context, event *wal.Event) error {
	if event == nil {
		return nil
	}

	r.mu.Lock()
	r.lastLSN = string(event.CommitPosition)
	r.mu.Unlock()

	// Keep-alive events carry only a position.
	if event.Data == nil {
		return nil
	}

	m, ok, err := toMutation(event.Data, r.config)
	if err != nil {
		r.logger.Warn("failed to convert WAL event", "error", err, "lsn", event.Data.LSN)
		return nil
	}
	if !ok {
		return nil
	}

	select {
	case r.mutations <- m:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Reader) sendError(err error) {
	select {
	case r.errors <- err:
	default:
		// A previous error is still unread; keep that one.
	}
}

// toMutation maps one WAL row change onto a document mutation. ok is false for
// rows outside the captured collection or for non-row events.
func toMutation(data *wal.Data, cfg Config) (m export.Mutation, ok bool, err error) {
	if !matchesTable(data, cfg.DocumentsTable) {
		return export.Mutation{}, false, nil
	}

	var before, after export.Snapshot
	switch data.Action {
	case "I":
		after, err = rowSnapshot(data.Columns)
	case "U":
		if before, err = rowSnapshot(data.Identity); err == nil {
			after, err = rowSnapshot(data.Columns)
		}
	case "D":
		before, err = rowSnapshot(data.Identity)
	default:
		return export.Mutation{}, false, nil
	}
	if err != nil {
		return export.Mutation{}, false, err
	}

	path := after.Path
	if path == "" {
		path = before.Path
	}

	// Without REPLICA IDENTITY FULL an update may arrive with no identity.
	if data.Action == "U" && before.Path == "" {
		before = export.Snapshot{Path: after.Path, ID: after.ID, Exists: true}
	}

	params, matched := export.MatchDocument(cfg.CollectionPath, path)
	if !matched {
		return export.Mutation{}, false, nil
	}

	ts, tsErr := data.GetTimestamp()
	if tsErr != nil {
		ts = time.Now().UTC()
	}
	if t, ok := columnTime(data.Columns, "updated_at"); ok && data.Action != "D" {
		ts = t
	}

	m = export.Mutation{
		Before: before,
		After:  after,
		Context: export.TriggerContext{
			EventID:   source.EventID(data.LSN, path),
			Timestamp: ts.UTC(),
			EventType: eventType(data.Action),
			Resource: export.Resource{
				Service: "postgres",
				Name:    export.DocumentName(cfg.ProjectID, path),
			},
			Params: params,
		},
	}
	return m, true, nil
}

func matchesTable(data *wal.Data, table string) bool {
	schema, name, found := strings.Cut(table, ".")
	if !found {
		return data.Table == table
	}
	return data.Schema == schema && data.Table == name
}

func eventType(action string) string {
	switch action {
	case "I":
		return "document.create"
	case "U":
		return "document.update"
	case "D":
		return "document.delete"
	default:
		return ""
	}
}

// rowSnapshot builds a snapshot from the documents table columns. An empty
// column list yields an absent snapshot.
func rowSnapshot(columns []wal.Column) (export.Snapshot, error) {
	if len(columns) == 0 {
		return export.Snapshot{}, nil
	}

	var snap export.Snapshot
	for _, col := range columns {
		switch col.Name {
		case "path":
			snap.Path, _ = col.Value.(string)
		case "document_id":
			snap.ID, _ = col.Value.(string)
		case "data":
			data, err := decodeDocument(col.Value)
			if err != nil {
				return export.Snapshot{}, err
			}
			snap.Data = data
		}
	}

	if snap.Path == "" {
		return export.Snapshot{}, fmt.Errorf("%w: no path column", ErrMalformedRow)
	}
	if snap.ID == "" {
		snap.ID = export.LastSegment(snap.Path)
	}
	snap.Exists = true
	return snap, nil
}

func columnTime(columns []wal.Column, name string) (time.Time, bool) {
	for _, col := range columns {
		if col.Name != name {
			continue
		}
		switch v := col.Value.(type) {
		case time.Time:
			return v, true
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05.999999-07:00"} {
				if t, err := time.Parse(layout, v); err == nil {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

// Ensure Reader implements source.Source interface.
var _ source.Source = (*Reader)(nil)
