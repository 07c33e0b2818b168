// Package main provides the entry point for the Tributary CLI tool.
// The CLI manages the export pipeline's schema, queues and tokens.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/janovincze/tributary/internal/app"
	"github.com/janovincze/tributary/internal/config"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the state shared by every command.
type cli struct {
	out      io.Writer
	logLevel string
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "tributary",
		Short:         "Tributary document export management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		c.versionCmd(),
		c.migrateCmd(),
		c.setupCmd(),
		c.statusCmd(),
		c.dlqCmd(),
		c.tokenCmd(),
	)
	return root
}

func (c *cli) logger() *slog.Logger {
	return app.NewLogger(c.logLevel)
}

// open loads configuration and connects to the metadata database.
func (c *cli) open(ctx context.Context) (*config.Config, *sql.DB, error) {
	cfg, err := app.LoadConfig(ctx, c.logger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(c.out, "tributary version %s\n", version)
			return nil
		},
	}
}
