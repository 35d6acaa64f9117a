package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/casthq/shophand/internal/reconcile"
	"github.com/casthq/shophand/internal/wire"
)

var orphansAll bool

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List webhook subscriptions no known job claims",
	Long: `Scans the shop's webhook subscriptions and reports the ones whose
callback URL does not embed the identity of any job in the registry. These
are usually leftovers from renamed or deleted jobs and keep consuming the
shop's webhook quota until removed.

Nothing is deleted; pass each orphan to 'disable' or remove it in the shop
admin once you have confirmed it is dead.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		app, cleanup, err := wire.InitializeApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app services: %w", err)
		}
		defer cleanup()

		var orphans []reconcile.Orphan
		if orphansAll {
			orphans, err = app.Reconciler.OrphansAll(ctx)
		} else {
			shop, serr := resolveShop(app)
			if serr != nil {
				return serr
			}
			orphans, err = app.Reconciler.Orphans(ctx, shop)
		}
		if err != nil {
			return err
		}

		if outputJSON {
			return printJSON(orphans)
		}

		if len(orphans) == 0 {
			successColor.Println("no orphaned subscriptions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SHOP\tID\tTOPIC\tCALLBACK\tIDENTITY")
		for _, o := range orphans {
			identity := o.Identity
			if identity == "" {
				identity = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				o.Shop,
				o.Subscription.ShortID(),
				o.Subscription.Topic,
				o.Subscription.CallbackURL,
				identity,
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		warnColor.Printf("%d orphaned subscription(s)\n", len(orphans))
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	orphansCmd.Flags().BoolVar(&orphansAll, "all", false, "Scan every configured shop instead of one")
	rootCmd.AddCommand(orphansCmd)
}
