package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/casthq/shophand/internal/core"
	"github.com/casthq/shophand/internal/reconcile"
	"github.com/casthq/shophand/internal/wire"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List every job in the registry with its live status",
	Long: `Lists all job definitions the deployment knows about, local definitions
overriding core ones, together with each job's activation state on the shop.
Status checks that fail (for example because the shop's API is unreachable)
are reported inline without aborting the listing.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		app, cleanup, err := wire.InitializeApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app services: %w", err)
		}
		defer cleanup()

		shop, err := resolveShop(app)
		if err != nil {
			return err
		}

		type row struct {
			Job    *core.JobDefinition  `json:"job"`
			Status *reconcile.JobStatus `json:"status,omitempty"`
			Error  string               `json:"error,omitempty"`
		}

		defs := app.Registry.Jobs()
		rows := make([]row, 0, len(defs))
		for _, def := range defs {
			r := row{Job: def}
			status, serr := app.Reconciler.Status(ctx, shop, def.Identity)
			if serr != nil {
				r.Error = serr.Error()
			} else {
				r.Status = status
			}
			rows = append(rows, r)
		}

		if outputJSON {
			return printJSON(rows)
		}

		if len(rows) == 0 {
			fmt.Println("no jobs defined")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "IDENTITY\tTITLE\tTRIGGER\tLOCATION\tSTATUS\tDETAIL")
		for _, r := range rows {
			state, detail := "error", r.Error
			if r.Status != nil {
				state, detail = string(r.Status.State), r.Status.Detail
			}
			if detail == "" {
				detail = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Job.Identity,
				r.Job.Title,
				r.Job.Trigger,
				r.Job.Location,
				state,
				detail,
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(jobsCmd)
}
