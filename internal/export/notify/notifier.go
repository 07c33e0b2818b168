package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/janovincze/tributary/internal/metrics"
)

// Config holds notifier configuration.
type Config struct {
	// Prefix namespaces the event types.
	Prefix string

	// Source is stamped on every event.
	Source string

	// AllowedEventTypes restricts which events are published (empty = all).
	AllowedEventTypes []string

	// PublishTimeout bounds a single publish call.
	PublishTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:         DefaultEventPrefix,
		Source:         "tributary",
		PublishTimeout: 5 * time.Second,
	}
}

// Notifier records lifecycle events. Every method is fire-and-forget: publish
// failures are logged and counted, never returned. A nil *Notifier is valid
// and publishes nothing.
type Notifier struct {
	publisher Publisher
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Notifier. A nil publisher disables publishing.
func New(pub Publisher, cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultEventPrefix
	}
	if len(cfg.AllowedEventTypes) > 0 {
		pub = NewFilterPublisher(pub, cfg.Prefix, cfg.AllowedEventTypes)
	}

	return &Notifier{
		publisher: pub,
		config:    cfg,
		logger:    logger.With("component", "event-notifier"),
		now:       time.Now,
	}
}

// RecordStart publishes an onStart event.
func (n *Notifier) RecordStart(ctx context.Context, data StartData) {
	n.publish(ctx, EventStart, "", data)
}

// RecordError publishes an onError event carrying the error message.
func (n *Notifier) RecordError(ctx context.Context, err error, subject string) {
	if err == nil {
		return
	}
	n.publish(ctx, EventError, subject, ErrorData{Message: err.Error()})
}

// RecordSuccess publishes an onSuccess event keyed by subject.
func (n *Notifier) RecordSuccess(ctx context.Context, subject string, data any) {
	n.publish(ctx, EventSuccess, subject, data)
}

// RecordCompletion publishes an onCompletion event.
func (n *Notifier) RecordCompletion(ctx context.Context, data any) {
	n.publish(ctx, EventCompletion, "", data)
}

// Close closes the underlying publisher.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.publisher.Close()
}

func (n *Notifier) publish(ctx context.Context, name, subject string, data any) {
	if n == nil {
		return
	}

	event := Event{
		ID:      uuid.New().String(),
		Type:    EventType(n.config.Prefix, name),
		Source:  n.config.Source,
		Subject: subject,
		Time:    n.now().UTC(),
		Data:    data,
	}

	if n.config.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.PublishTimeout)
		defer cancel()
	}

	if err := n.publisher.Publish(ctx, event); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(name, metrics.OutcomeFailure).Inc()
		n.logger.Warn("failed to publish event",
			"type", event.Type,
			"subject", subject,
			"error", err,
		)
		return
	}

	metrics.EventsPublishedTotal.WithLabelValues(name, metrics.OutcomeSuccess).Inc()
	n.logger.Debug("event published", "type", event.Type, "subject", subject)
}
