package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/storage/postgres"
	"github.com/dytto-app/dytto/migrations"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending postgres migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageBackend != config.BackendPostgres {
				return fmt.Errorf("migrate: DYTTO_STORAGE is %q; only postgres has migrations", cfg.StorageBackend)
			}

			db, err := postgres.New(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer func() { _ = db.Close(cmd.Context()) }()

			ran, err := db.RunMigrations(cmd.Context(), migrations.FS)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(ran))
			for _, name := range ran {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  "+name)
			}
			return nil
		},
	}
}
