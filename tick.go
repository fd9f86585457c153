package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"crm-automation/api/pkg/db"
)

// tickCmd runs one pass over the schedule triggers, for use from an external cron.
var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Fire every schedule trigger that is due, then exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		a, err := newApp(pool, prometheus.NewRegistry())
		if err != nil {
			return err
		}

		results, err := a.triggers.RunSchedules(ctx)
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		slog.Info("Schedule tick finished", "executions", len(results), "failed", failed)
		return err
	},
}
