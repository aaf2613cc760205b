package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/groblegark/scribe/internal/config"
	"github.com/groblegark/scribe/internal/store/postgres"
	"github.com/spf13/cobra"
)

var cleanupDays int

// cleanupCmd talks to the database directly rather than through the server,
// so retention can be run from cron even when the server is down.
var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	Short:   "Delete messages and actions older than the retention window",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an HTTP client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		days := cleanupDays
		if days == 0 {
			days = cfg.RetentionDays
		}
		if days <= 0 {
			return fmt.Errorf("no retention window: set --days or SCRIBE_RETENTION_DAYS")
		}

		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		messages, actions, err := store.DeleteOlderThan(context.Background(), cutoff)
		if err != nil {
			return fmt.Errorf("deleting old rows: %w", err)
		}

		if jsonOutput {
			out := map[string]any{
				"cutoff":           cutoff,
				"messages_deleted": messages,
				"actions_deleted":  actions,
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Deleted %d messages and %d actions older than %s\n",
			messages, actions, cutoff.Format("2006-01-02"))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "delete rows older than this many days")
}
