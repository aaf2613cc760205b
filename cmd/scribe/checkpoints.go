package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:     "checkpoints",
	Short:   "List per-scope ingestion checkpoints",
	GroupID: "views",
	RunE: func(cmd *cobra.Command, args []string) error {
		cps, err := scribeClient.ListCheckpoints(context.Background())
		if err != nil {
			return fmt.Errorf("listing checkpoints: %w", err)
		}

		if jsonOutput {
			data, err := json.MarshalIndent(cps, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		printCheckpointTable(cps)
		return nil
	},
}
