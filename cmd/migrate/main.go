// Команда migrate управляет схемой PostgreSQL: up, down и status.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	dsnEnv         = "SWEETBAR_POSTGRES_DSN"
)

type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (uint, bool, error)
	Close() error
}

var openMigrator = func(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, dsn)
}

type options struct {
	dsn     string
	timeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fail("%v", err)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the order store PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+dsnEnv+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall command timeout")

	root.AddCommand(
		newStepCommand(opts, "up", "Apply pending migrations (steps=0 applies all)", 0, func(ctx context.Context, m migrator, steps int) error {
			return m.MigrateUp(ctx, steps)
		}),
		newStepCommand(opts, "down", "Roll back migrations", 1, func(ctx context.Context, m migrator, steps int) error {
			return m.MigrateDown(ctx, steps)
		}),
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, opts, func(ctx context.Context, m migrator) error {
					return printStatus(ctx, cmd.OutOrStdout(), "migration status", m)
				})
			},
		},
	)

	return root
}

func newStepCommand(opts *options, name, short string, defaultSteps int, apply func(ctx context.Context, m migrator, steps int) error) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, opts, func(ctx context.Context, m migrator) error {
				if err := apply(ctx, m, steps); err != nil {
					return fmt.Errorf("migrate %s failed: %w", name, err)
				}
				return printStatus(ctx, cmd.OutOrStdout(), "migrate "+name+" ok", m)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", defaultSteps, "number of migrations to apply or roll back")
	return cmd
}

func withMigrator(cmd *cobra.Command, opts *options, fn func(ctx context.Context, m migrator) error) error {
	dsn := strings.TrimSpace(opts.dsn)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv(dsnEnv))
	}
	if dsn == "" {
		return errors.New(dsnEnv + " (or --dsn) is required")
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.timeout)
	defer cancel()

	m, err := openMigrator(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer m.Close()

	return fn(ctx, m)
}

func printStatus(ctx context.Context, out io.Writer, prefix string, m migrator) error {
	version, dirty, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d dirty=%t\n", prefix, version, dirty)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
