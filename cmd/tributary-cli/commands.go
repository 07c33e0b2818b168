package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/janovincze/tributary/internal/app"
	"github.com/janovincze/tributary/internal/database"
	"github.com/janovincze/tributary/internal/ingress/auth"
	"github.com/janovincze/tributary/internal/ingress/handlers"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/state"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and create the replication slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, db, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := database.Migrate(db, c.logger())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "schema version %d\n", v)

			if cfg.Source.WALEnabled {
				created, err := database.EnsureReplicationSlot(ctx, db, cfg.Source.SlotName, "")
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(c.out, "replication slot %s created\n", cfg.Source.SlotName)
				} else {
					fmt.Fprintf(c.out, "replication slot %s exists\n", cfg.Source.SlotName)
				}
			}
			return nil
		},
	}
}

func (c *cli) setupCmd() *cobra.Command {
	var noBackfill bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Schedule warehouse initialization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, db, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			name := queue.QueueInit
			if noBackfill {
				name = queue.QueueSetup
			}
			q := queue.NewPostgresQueue(db, app.QueueConfig(cfg), c.logger())
			task, err := q.Enqueue(ctx, name, handlers.SetupTask{
				RequestedAt: time.Now().UTC(),
				RequestedBy: "cli",
			})
			if err != nil {
				return fmt.Errorf("failed to enqueue %s task: %w", name, err)
			}
			fmt.Fprintf(c.out, "enqueued %s task %s\n", task.Queue, task.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBackfill, "no-backfill", false, "initialize the warehouse without importing existing documents")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show processing state and queue depths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, db, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			logger := c.logger()
			store := state.NewPostgresStore(db, cfg.Export.InstanceID, logger)
			current, err := store.Current(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Tributary Status\n")
			fmt.Fprintf(c.out, "----------------\n")
			fmt.Fprintf(c.out, "Instance:   %s\n", cfg.Export.InstanceID)
			fmt.Fprintf(c.out, "Collection: %s\n", cfg.Export.CollectionPath)
			if current != nil {
				fmt.Fprintf(c.out, "State:      %s (%s)\n", current.State, current.UpdatedAt.Format(time.RFC3339))
				if current.Message != "" {
					fmt.Fprintf(c.out, "Message:    %s\n", current.Message)
				}
			} else {
				fmt.Fprintf(c.out, "State:      not initialized\n")
			}

			if cfg.Source.WALEnabled {
				cp, err := store.LoadCheckpoint(ctx, app.SourceID(cfg))
				if err != nil {
					return err
				}
				if cp != nil {
					fmt.Fprintf(c.out, "Checkpoint: %s (%s)\n", cp.LSN, cp.CommittedAt.Format(time.RFC3339))
				}
			}

			version, dirty, err := database.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Schema:     %d", version)
			if dirty {
				fmt.Fprint(c.out, " (dirty)")
			}
			fmt.Fprintln(c.out)

			q := queue.NewPostgresQueue(db, app.QueueConfig(cfg), logger)
			depths, err := q.Depths(ctx, queue.Names)
			if err != nil {
				return err
			}
			dead, err := queue.NewPostgresDeadLetters(db, logger).Count(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(c.out)
			w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tDEPTH")
			for _, name := range queue.Names {
				fmt.Fprintf(w, "%s\t%d\n", name, depths[name])
			}
			fmt.Fprintf(w, "dead letters\t%d\n", dead)
			return w.Flush()
		},
	}
}

func (c *cli) dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and requeue dead letters",
	}

	var (
		queueName string
		limit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}
			ctx := cmd.Context()
			_, db, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			items, err := queue.NewPostgresDeadLetters(db, c.logger()).List(ctx, queueName, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(c.out, "no dead letters")
				return nil
			}

			w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUEUE\tATTEMPTS\tTYPE\tCREATED\tERROR")
			for _, dl := range items {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
					dl.ID, dl.Queue, dl.Attempts, dl.ErrorType,
					dl.CreatedAt.Format(time.RFC3339), truncate(dl.ErrorMessage, 60))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&queueName, "queue", "", "only list dead letters from this queue")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of dead letters to list")

	requeue := &cobra.Command{
		Use:   "requeue ID",
		Short: "Move a dead letter back onto its queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}
			ctx := cmd.Context()
			cfg, db, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			logger := c.logger()
			q := queue.NewPostgresQueue(db, app.QueueConfig(cfg), logger)
			task, err := queue.Requeue(ctx, queue.NewPostgresDeadLetters(db, logger), q, id)
			if errors.Is(err, queue.ErrDeadLetterNotFound) {
				return fmt.Errorf("dead letter %d not found", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "requeued dead letter %d as %s task %s\n", id, task.Queue, task.ID)
			return nil
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		scopes []string
		ttl    time.Duration
		secret string
		issuer string
	)
	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Issue an ingress bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scopes {
				if s != auth.ScopeCapture && s != auth.ScopeAdmin {
					return fmt.Errorf("unknown scope %q", s)
				}
			}

			if secret == "" {
				cfg, err := app.LoadConfig(cmd.Context(), c.logger())
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				secret = cfg.Ingress.JWTSecret
				if issuer == "" {
					issuer = cfg.Ingress.JWTIssuer
				}
				if ttl <= 0 {
					ttl = cfg.Ingress.TokenTTL
				}
			}
			if issuer == "" {
				issuer = "tributary"
			}
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}

			signer, err := auth.NewSigner(secret, issuer)
			if err != nil {
				return err
			}
			token, expires, err := signer.Issue(args[0], scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeCapture}, "token scopes (capture, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to the configured token TTL)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to the configured JWT secret)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "token issuer (defaults to the configured issuer)")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
