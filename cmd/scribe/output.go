package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/groblegark/scribe/internal/backfill"
	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/ui"
)

// printBackfillLines prints one indented line per backfill run.
func printBackfillLines(statuses []backfill.Status) {
	for _, s := range statuses {
		line := fmt.Sprintf("  %s: %s", s.ScopeID, ui.RenderState(string(s.State)))
		if s.Pages > 0 {
			line += fmt.Sprintf(" (%d pages, %d messages)", s.Pages, s.Messages)
		}
		if s.LastError != "" {
			line += " " + ui.RenderMuted(s.LastError)
		}
		fmt.Println(line)
	}
}

func printBackfillTable(statuses []backfill.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tSTATE\tPAGES\tMESSAGES\tCURSOR\tERROR")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			s.ScopeID,
			ui.RenderState(string(s.State)),
			s.Pages,
			s.Messages,
			s.Cursor,
			s.LastError,
		)
	}
	w.Flush()
}

func printCheckpointTable(cps []*model.Checkpoint) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tKIND\tLAST ID\tLAST AT\tPROCESSED\tBACKFILLING")
	for _, cp := range cps {
		lastAt := ""
		if !cp.LastProcessedAt.IsZero() {
			lastAt = cp.LastProcessedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
			cp.ScopeID,
			cp.Kind,
			cp.LastProcessedID,
			lastAt,
			cp.TotalProcessed,
			cp.BackfillInProgress,
		)
	}
	w.Flush()
	fmt.Printf("\n%d checkpoints\n", len(cps))
}
