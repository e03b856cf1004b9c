package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordereditor/internal/storage/postgres"
)

const migrateTimeout = 30 * time.Second

var errDSNRequired = errors.New("postgres DSN is required (--dsn, postgres_dsn or OMS_POSTGRES_DSN)")

// NewMigrateCommand создаёт команду управления схемой PostgreSQL.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Миграции схемы PostgreSQL",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (по умолчанию postgres_dsn из конфигурации)")

	resolveDSN := func() (string, error) {
		if strings.TrimSpace(dsn) != "" {
			return dsn, nil
		}
		cfg, err := rootOpts.loadConfig()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return "", errDSNRequired
		}
		return cfg.PostgresDSN, nil
	}

	var upSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Применить миграции (по умолчанию все)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, resolveDSN, func(ctx context.Context, store *postgres.Store) error {
				if err := store.MigrateUp(ctx, upSteps); err != nil {
					return fmt.Errorf("migrate up failed: %w", err)
				}
				return printMigrationStatus(ctx, cmd.OutOrStdout(), store)
			})
		},
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "сколько миграций применить (0 = все)")

	var downSteps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Откатить миграции (по умолчанию одну)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if downSteps <= 0 {
				downSteps = 1
			}
			return withStore(cmd, resolveDSN, func(ctx context.Context, store *postgres.Store) error {
				if err := store.MigrateDown(ctx, downSteps); err != nil {
					return fmt.Errorf("migrate down failed: %w", err)
				}
				return printMigrationStatus(ctx, cmd.OutOrStdout(), store)
			})
		},
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "сколько миграций откатить")

	status := &cobra.Command{
		Use:   "status",
		Short: "Показать состояние миграций",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, resolveDSN, func(ctx context.Context, store *postgres.Store) error {
				return printMigrationStatus(ctx, cmd.OutOrStdout(), store)
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func withStore(cmd *cobra.Command, resolveDSN func() (string, error), fn func(context.Context, *postgres.Store) error) error {
	dsn, err := resolveDSN()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	return fn(ctx, store)
}

func printMigrationStatus(ctx context.Context, out io.Writer, store *postgres.Store) error {
	migrations, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	return writeMigrationTable(out, migrations)
}

func writeMigrationTable(out io.Writer, migrations []postgres.MigrationInfo) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED\tAPPLIED AT")
	for _, m := range migrations {
		appliedAt := "-"
		if m.Applied && !m.AppliedAt.IsZero() {
			appliedAt = m.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", m.Version, m.Name, m.Applied, appliedAt)
	}
	return tw.Flush()
}
