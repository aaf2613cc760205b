package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show ingestion counters and queue depths",
	GroupID: "views",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := scribeClient.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("fetching stats: %w", err)
		}

		if jsonOutput {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		p := stats.Pipeline
		fmt.Println("Ingestion")
		fmt.Printf("  Messages Received: %d\n", p.MessagesReceived)
		fmt.Printf("  Actions Received:  %d\n", p.ActionsReceived)
		fmt.Printf("  Duplicates:        %d\n", p.Duplicates)
		fmt.Printf("  Filtered:          %d\n", p.Filtered)
		fmt.Printf("  Validation Drops:  %d\n", p.ValidationDrops)
		fmt.Println("Storage")
		fmt.Printf("  Messages Stored:   %d\n", p.MessagesStored)
		fmt.Printf("  Actions Stored:    %d\n", p.ActionsStored)
		fmt.Printf("  Backfilled:        %d\n", p.BackfilledStored)
		fmt.Printf("  Total Messages:    %d\n", stats.TotalMessages)
		fmt.Printf("  Total Actions:     %d\n", stats.TotalActions)
		fmt.Println("Queues")
		fmt.Printf("  Message Depth:     %d (dropped %d)\n", p.MessageQueueDepth, p.MessagesDropped)
		fmt.Printf("  Action Depth:      %d (dropped %d)\n", p.ActionQueueDepth, p.ActionsDropped)
		fmt.Printf("  Flushes:           %d (fatal batches %d)\n", p.Flushes, p.FatalBatches)

		if len(stats.Backfills) > 0 {
			fmt.Println("Backfills")
			printBackfillLines(stats.Backfills)
		}
		if len(p.LastErrors) > 0 {
			fmt.Println("Recent Errors")
			for _, e := range p.LastErrors {
				fmt.Printf("  %s: %s (%s)\n", e.Component, e.Error, e.At.Format("15:04:05"))
			}
		}
		return nil
	},
}
