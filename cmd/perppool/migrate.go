package main

import (
	"PerpPool/internal/config"
	"PerpPool/internal/observability"
	"PerpPool/internal/persistence"
	"PerpPool/migrations"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
	}

	run := func(action func(m *persistence.Migrator, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context(), cfg.PostgresURL)
			if err != nil {
				return err
			}
			defer db.Close()
			logger := observability.NewLoggerTo(os.Stderr, "migrate", observability.ParseLevel(cfg.LogLevel))
			return action(persistence.NewMigrator(db, migrations.FS, logger), cmd)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(m *persistence.Migrator, cmd *cobra.Command) error {
				return m.Up(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: run(func(m *persistence.Migrator, cmd *cobra.Command) error {
				return m.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List pending migrations",
			RunE: run(func(m *persistence.Migrator, cmd *cobra.Command) error {
				pending, err := m.Pending(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(pending) == 0 {
					fmt.Fprintln(out, "schema is up to date")
					return nil
				}
				for _, name := range pending {
					fmt.Fprintln(out, "pending:", name)
				}
				return nil
			}),
		},
	)
	return cmd
}
