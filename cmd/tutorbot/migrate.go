package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/app"
	"github.com/abjtutorial/tutorbot/internal/config"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all up migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.DriverPostgres {
				return errors.New("migrate: storage.driver is not postgres")
			}
			if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
				return fmt.Errorf("migrate: logger init: %w", err)
			}
			defer func() { _ = logger.Shutdown() }()
			return app.MigrateUp(cmd.Context(), cfg.Database)
		},
	})
	return migrateCmd
}
