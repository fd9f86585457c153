package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"crm-automation/api/pkg/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := db.Migrate(cmd.Context(), cfg.Database.URL); err != nil {
			return err
		}
		slog.Info("Migrations applied")
		return nil
	},
}
