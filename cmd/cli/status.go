package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/casthq/shophand/internal/reconcile"
	"github.com/casthq/shophand/internal/wire"
)

var statusCmd = &cobra.Command{
	Use:   "status [job]",
	Short: "Show whether a job's trigger is live on the shop",
	Long: `Reports the activation state of a single job. Webhook jobs are checked
against the shop's live subscriptions, scheduled jobs against the deployed cron
expressions, and web-request jobs are always reachable through the public
endpoint. Manual jobs only run when launched explicitly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx := context.Background()
		identity := args[0]

		app, cleanup, err := wire.InitializeApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app services: %w", err)
		}
		defer cleanup()

		shop, err := resolveShop(app)
		if err != nil {
			return err
		}

		status, err := app.Reconciler.Status(ctx, shop, identity)
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(status)
		}

		fmt.Printf("%s on %s: %s", identity, shop.Domain, stateLabel(status.State))
		if status.Detail != "" {
			dimColor.Printf(" (%s)", status.Detail)
		}
		fmt.Println()
		return nil
	},
}

func stateLabel(state reconcile.StatusState) string {
	switch state {
	case reconcile.StatusEnabled:
		return successColor.Sprint("enabled")
	case reconcile.StatusDisabled:
		return errorColor.Sprint("disabled")
	case reconcile.StatusManual:
		return warnColor.Sprint("manual")
	default:
		return color.New(color.Faint).Sprint(string(state))
	}
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(statusCmd)
}
