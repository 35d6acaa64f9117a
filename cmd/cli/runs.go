package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/casthq/shophand/internal/wire"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent job runs from the run journal",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		app, cleanup, err := wire.InitializeApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app services: %w", err)
		}
		defer cleanup()

		records, err := app.Store.RecentRuns(ctx, runsLimit)
		if err != nil {
			return fmt.Errorf("failed to read run journal: %w", err)
		}

		if outputJSON {
			return printJSON(records)
		}

		if len(records) == 0 {
			fmt.Println("no runs recorded yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tJOB\tSHOP\tSTATE\tSTARTED\tERROR")
		for _, rec := range records {
			errMsg := rec.Error
			if errMsg == "" {
				errMsg = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.ID,
				rec.JobID,
				rec.ShopDomain,
				rec.State,
				rec.StartedAt.Format(time.RFC822),
				errMsg,
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(runsCmd)
}
