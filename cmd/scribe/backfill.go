package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var backfillResume bool

var backfillCmd = &cobra.Command{
	Use:     "backfill",
	Short:   "Manage historical backfill runs",
	GroupID: "backfill",
}

var backfillStartCmd = &cobra.Command{
	Use:   "start <channel-id>",
	Short: "Start (or resume) a backfill for a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeID := args[0]
		if err := scribeClient.StartBackfill(context.Background(), scopeID, backfillResume); err != nil {
			return fmt.Errorf("starting backfill: %w", err)
		}
		fmt.Printf("Backfill started for %s\n", scopeID)
		return nil
	},
}

var backfillStopCmd = &cobra.Command{
	Use:   "stop <channel-id>",
	Short: "Pause a running backfill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeID := args[0]
		if err := scribeClient.StopBackfill(context.Background(), scopeID); err != nil {
			return fmt.Errorf("stopping backfill: %w", err)
		}
		fmt.Printf("Backfill paused for %s\n", scopeID)
		return nil
	},
}

var backfillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backfill runs and their state",
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := scribeClient.ListBackfills(context.Background())
		if err != nil {
			return fmt.Errorf("listing backfills: %w", err)
		}

		if jsonOutput {
			data, err := json.MarshalIndent(statuses, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(statuses) == 0 {
			fmt.Println("No backfill runs")
			return nil
		}
		printBackfillTable(statuses)
		return nil
	},
}

func init() {
	backfillStartCmd.Flags().BoolVar(&backfillResume, "resume", false,
		"take over a backfill left in progress by a crashed run")

	backfillCmd.AddCommand(backfillStartCmd)
	backfillCmd.AddCommand(backfillStopCmd)
	backfillCmd.AddCommand(backfillListCmd)
}
