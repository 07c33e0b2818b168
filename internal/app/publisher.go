package app

import (
	"fmt"
	"log/slog"

	"github.com/janovincze/tributary/internal/config"
	"github.com/janovincze/tributary/internal/export/notify"
)

// NewPublisher builds the configured event channel. Every channel except none
// also feeds a websocket hub so operators can follow events on the ingress.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) (notify.Publisher, *notify.Hub, error) {
	if cfg.Channel == config.ChannelNone || cfg.Channel == "" {
		return notify.NopPublisher{}, nil, nil
	}

	broker, err := newBroker(cfg)
	if err != nil {
		return nil, nil, err
	}

	hub := notify.NewHub(logger)
	if broker == nil {
		return hub, hub, nil
	}
	return notify.MultiPublisher{broker, hub}, hub, nil
}

func newBroker(cfg config.EventsConfig) (notify.Publisher, error) {
	codec := notify.CodecJSON
	if cfg.Codec == string(notify.CodecMsgpack) {
		codec = notify.CodecMsgpack
	}

	switch cfg.Channel {
	case config.ChannelWebsocket:
		return nil, nil

	case config.ChannelNATS:
		pub, err := notify.NewNATSPublisher(notify.NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			MaxAge:  cfg.NATSMaxAge,
			Codec:   codec,
		})
		if err != nil {
			return nil, fmt.Errorf("create nats publisher: %w", err)
		}
		return pub, nil

	case config.ChannelKafka:
		pub, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Codec:   codec,
		})
		if err != nil {
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		return pub, nil

	case config.ChannelWebhook:
		pub, err := notify.NewWebhookPublisher(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: cfg.WebhookTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create webhook publisher: %w", err)
		}
		return pub, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownChannel, cfg.Channel)
	}
}
