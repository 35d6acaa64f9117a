package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casthq/shophand/internal/wire"
)

var disableCmd = &cobra.Command{
	Use:   "disable [job]",
	Short: "Delete the webhook subscriptions a job owns",
	Long: `Deletes every subscription on the job's webhook topic whose callback
URL embeds this job's identity. Subscriptions created by other deployments or
other jobs on the same topic are left alone.`,
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

		result, err := app.Reconciler.Disable(ctx, shop, identity)
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(result)
		}

		for _, sub := range result.Deleted {
			successColor.Printf("deleted subscription #%s (%s)\n", sub.ShortID(), sub.Topic)
		}
		for _, f := range result.Failed {
			errorColor.Printf("failed to delete subscription #%s: %v\n", f.Subscription.ShortID(), f.Err)
		}

		if len(result.Deleted) == 0 && len(result.Failed) == 0 {
			fmt.Printf("no subscriptions found for %s on %s\n", identity, shop.Domain)
			for _, hint := range result.Hints {
				dimColor.Printf("  same topic, different owner: #%s -> %s\n", hint.ShortID(), hint.CallbackURL)
			}
		}

		if len(result.Failed) > 0 {
			return fmt.Errorf("%d subscription(s) could not be deleted", len(result.Failed))
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(disableCmd)
}
