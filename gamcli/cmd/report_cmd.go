package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/graphmem/gam/recording"
)

var reportCmd = &cobra.Command{
	Use:   "report [trace.sqlite3]",
	Short: "Print a recorded memory-engine run.",
	Long: `report reads a SQLite trace produced by the demo command (or any ` +
		`program using the recording package) and prints the per-step and ` +
		`per-eviction history.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runReport,
}

func init() {
	reportCmd.Flags().Int("limit", 0, "print at most this many steps")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		path = os.Getenv("GAM_TRACE_DB")
		if path != "" {
			path += ".sqlite3"
		}
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no trace given and GAM_TRACE_DB is not set")
		os.Exit(1)
	}

	reader := recording.NewSQLiteReader(path)
	defer reader.Close()

	reader.MapTable(recording.StepTableName, recording.StepEntry{})
	reader.MapTable(recording.EvictionTableName, recording.EvictionEntry{})

	ctx := context.Background()

	steps, total, err := reader.Query(ctx, recording.StepTableName,
		recording.QueryParams{OrderBy: "Step", Limit: limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read trace: %s\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tENGINE\tNEW\tLIVE\tEDGES\tEVICTED\tMS")
	for _, row := range steps {
		e := row.(recording.StepEntry)
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%.3f\n",
			e.Step, e.Engine, e.NewNodes, e.LiveNodes,
			e.Edges, e.Evicted, e.DurationMS)
	}
	w.Flush()

	evictions, _, err := reader.Query(ctx, recording.EvictionTableName,
		recording.QueryParams{OrderBy: "Step"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read evictions: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d steps, %d evictions\n", total, len(evictions))
}
