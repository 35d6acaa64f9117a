package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casthq/shophand/internal/reconcile"
	"github.com/casthq/shophand/internal/wire"
)

var enableForce bool

var enableCmd = &cobra.Command{
	Use:   "enable [job]",
	Short: "Create the webhook subscription a job needs",
	Long: `Creates a subscription binding the job's webhook topic to this
deployment's callback URL. Enabling an already-enabled job changes nothing;
a same-topic subscription pointing elsewhere is reported as a conflict and
never overwritten.

With --force, a subscription whose payload filters have drifted from the
job's configuration is deleted and recreated. Force never touches
subscriptions that belong to other jobs.`,
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

		result, err := app.Reconciler.Enable(ctx, shop, identity)
		if err != nil {
			return err
		}

		if enableForce && result.Outcome == reconcile.EnableAlreadyEnabled && result.FieldsDiffer {
			warnColor.Printf("filters drifted from job config, recreating subscription for %s\n", identity)
			if _, err := app.Reconciler.Disable(ctx, shop, identity); err != nil {
				return err
			}
			result, err = app.Reconciler.Enable(ctx, shop, identity)
			if err != nil {
				return err
			}
		}

		if outputJSON {
			return printJSON(result)
		}

		switch result.Outcome {
		case reconcile.EnableCreated:
			successColor.Printf("enabled %s on %s\n", identity, shop.Domain)
			dimColor.Printf("  subscription #%s -> %s\n", result.Subscription.ShortID(), result.Subscription.CallbackURL)

		case reconcile.EnableAlreadyEnabled:
			successColor.Printf("%s is already enabled on %s\n", identity, shop.Domain)
			for _, sub := range result.Matches {
				dimColor.Printf("  subscription #%s -> %s\n", sub.ShortID(), sub.CallbackURL)
			}
			if result.FieldsDiffer {
				warnColor.Println("  note: the active subscription's payload filters differ from the job config; re-run with --force to recreate it")
			}

		case reconcile.EnableConflict:
			errorColor.Printf("cannot enable %s: its topic is already subscribed at a different URL\n", identity)
			for _, sub := range result.Conflicts {
				dimColor.Printf("  subscription #%s -> %s\n", sub.ShortID(), sub.CallbackURL)
			}
			fmt.Println("disable the conflicting subscription first, then enable again")
			return fmt.Errorf("topic conflict for %s on %s", identity, shop.Domain)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	enableCmd.Flags().BoolVar(&enableForce, "force", false, "Recreate the subscription when its filters drifted from the job config")
	rootCmd.AddCommand(enableCmd)
}
