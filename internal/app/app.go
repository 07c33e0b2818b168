// Package app assembles the tributary components from configuration. It is
// shared by the worker and the CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/janovincze/tributary/internal/config"
	"github.com/janovincze/tributary/internal/database"
	"github.com/janovincze/tributary/internal/secrets"
)

// NewLogger returns a JSON logger writing to stdout at the named level.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown values
// yield info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig reads the environment, overlays Vault secrets when enabled and
// validates the result.
func LoadConfig(ctx context.Context, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.Vault.Enabled {
		client, err := secrets.NewClient(VaultConfig(cfg.Vault), logger)
		if err != nil {
			return nil, fmt.Errorf("create vault client: %w", err)
		}
		resolver := secrets.NewResolver(client, cfg.Vault.FallbackToEnv, logger)
		if err := cfg.ApplySecrets(ctx, resolver); err != nil {
			return nil, fmt.Errorf("apply vault secrets: %w", err)
		}
		logger.Info("secrets resolved from vault", "address", cfg.Vault.Address)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// VaultConfig converts the Vault settings into a secrets client config.
func VaultConfig(v config.VaultConfig) secrets.Config {
	sc := secrets.DefaultConfig()
	sc.Enabled = v.Enabled
	sc.Address = v.Address
	sc.Namespace = v.Namespace
	sc.Token = v.Token
	sc.CACert = v.CACert
	sc.FallbackToEnv = v.FallbackToEnv
	if v.AuthMethod != "" {
		sc.AuthMethod = v.AuthMethod
	}
	if v.Role != "" {
		sc.Role = v.Role
	}
	if v.TokenPath != "" {
		sc.TokenPath = v.TokenPath
	}
	if v.MountPath != "" {
		sc.MountPath = v.MountPath
	}
	sc.Paths = secrets.Paths{
		Database: v.DatabasePath,
		Storage:  v.StoragePath,
		Ingress:  v.IngressPath,
		Catalog:  v.CatalogPath,
	}
	return sc
}

// OpenDatabase connects to the metadata database.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	return database.Open(ctx, database.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}
