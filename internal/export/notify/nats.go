package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig holds configuration for the JetStream publisher.
type NATSConfig struct {
	URL     string
	Subject string
	MaxAge  time.Duration
	Codec   Codec
}

// NATSPublisher publishes events to a NATS JetStream subject. The subject
// receives the event name as a final token, e.g. "tributary.events.onStart".
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSConfig

	mu      sync.Mutex
	ensured bool
}

// NewNATSPublisher connects to NATS and prepares a JetStream context.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats publisher requires a url")
	}
	if cfg.Subject == "" {
		cfg.Subject = "tributary.events"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSPublisher{nc: nc, js: js, config: cfg}, nil
}

// Publish sends the event to JetStream.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := p.ensureStream(ctx); err != nil {
		return err
	}

	data, err := p.config.Codec.Marshal(event)
	if err != nil {
		return err
	}

	subject := p.config.Subject + "." + EventName(event.Type)
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Nats-Msg-Id":  []string{event.ID},
			"Content-Type": []string{p.config.Codec.ContentType()},
			"Ce-Type":      []string{event.Type},
		},
	}
	if event.Subject != "" {
		msg.Header.Set("key", event.Subject)
	}

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) ensureStream(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured {
		return nil
	}

	name := streamName(p.config.Subject)
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{p.config.Subject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    p.config.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}
	p.ensured = true
	return nil
}

// Close drains the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// streamName converts a subject to a valid JetStream stream name.
func streamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject))
}

var _ Publisher = (*NATSPublisher)(nil)
