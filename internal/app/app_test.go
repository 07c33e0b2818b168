package app

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/janovincze/tributary/internal/config"
	"github.com/janovincze/tributary/internal/export/notify"
	"github.com/janovincze/tributary/internal/secrets"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestVaultConfig(t *testing.T) {
	sc := VaultConfig(config.VaultConfig{
		Enabled:       true,
		Address:       "https://vault:8200",
		AuthMethod:    secrets.AuthMethodKubernetes,
		FallbackToEnv: true,
		DatabasePath:  "team/db",
	})

	if !sc.Enabled || sc.Address != "https://vault:8200" {
		t.Errorf("unexpected connection settings: %+v", sc)
	}
	if sc.AuthMethod != secrets.AuthMethodKubernetes {
		t.Errorf("AuthMethod = %q", sc.AuthMethod)
	}
	if sc.MountPath != "secret" || sc.TokenPath != secrets.DefaultTokenPath {
		t.Errorf("expected defaults for unset fields, got mount %q token path %q", sc.MountPath, sc.TokenPath)
	}
	if sc.Paths.Database != "team/db" {
		t.Errorf("Paths.Database = %q", sc.Paths.Database)
	}
}

func TestNewPublisher(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EventsConfig
		wantHub bool
		wantErr bool
	}{
		{"none", config.EventsConfig{Channel: config.ChannelNone}, false, false},
		{"empty", config.EventsConfig{}, false, false},
		{"websocket", config.EventsConfig{Channel: config.ChannelWebsocket}, true, false},
		{"webhook", config.EventsConfig{Channel: config.ChannelWebhook, WebhookURL: "http://127.0.0.1:9/hook", WebhookTimeout: time.Second}, true, false},
		{"webhook without url", config.EventsConfig{Channel: config.ChannelWebhook}, false, true},
		{"kafka without brokers", config.EventsConfig{Channel: config.ChannelKafka}, false, true},
		{"nats without url", config.EventsConfig{Channel: config.ChannelNATS}, false, true},
		{"unknown", config.EventsConfig{Channel: "carrier-pigeon"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, hub, err := NewPublisher(tt.cfg, discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer pub.Close()

			if (hub != nil) != tt.wantHub {
				t.Errorf("hub = %v, wantHub %v", hub, tt.wantHub)
			}
		})
	}
}

func TestNewPublisher_UnknownChannelError(t *testing.T) {
	_, _, err := NewPublisher(config.EventsConfig{Channel: "smoke"}, discard())
	if !errors.Is(err, config.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestNewPublisher_BrokerFansOutToHub(t *testing.T) {
	pub, hub, err := NewPublisher(config.EventsConfig{Channel: config.ChannelWebhook, WebhookURL: "http://127.0.0.1:9/hook"}, discard())
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	multi, ok := pub.(notify.MultiPublisher)
	if !ok {
		t.Fatalf("expected MultiPublisher, got %T", pub)
	}
	if len(multi) != 2 || multi[1] != notify.Publisher(hub) {
		t.Errorf("expected broker then hub, got %v", multi)
	}
}

func TestQueueConfigAndSourceID(t *testing.T) {
	cfg := &config.Config{
		Export: config.ExportConfig{MaxPayloadBytes: 1000},
		Queue:  config.QueueConfig{MaxAttempts: 7},
		Source: config.SourceConfig{SlotName: "tributary_documents"},
	}

	qc := QueueConfig(cfg)
	if qc.MaxAttempts != 7 || qc.MaxPayloadBytes != 2000 {
		t.Errorf("unexpected queue config: %+v", qc)
	}
	if id := SourceID(cfg); id != "wal-tributary_documents" {
		t.Errorf("SourceID = %q", id)
	}
}
