package main

import (
	"encoding/json"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/casthq/shophand/internal/app"
	"github.com/casthq/shophand/internal/core"
)

var (
	shopDomain string
	outputJSON bool
)

// Color definitions
var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
)

var rootCmd = &cobra.Command{
	Use:   "shophand",
	Short: "shophand is the operator CLI for the shophand event worker.",
	Long: `A CLI for operating shophand's webhook subscriptions and jobs: enabling
and disabling subscriptions on the commerce platform, checking job status,
finding orphaned subscriptions, and inspecting recent runs.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.PersistentFlags().StringVar(&shopDomain, "shop", "", "Shop domain to operate on (defaults to the configured default shop)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output as JSON")
}

// resolveShop picks the shop named by --shop, or the configured default.
func resolveShop(a *app.App) (*core.ShopConfig, error) {
	if shopDomain != "" {
		return a.Shops.ByDomain(shopDomain)
	}
	return a.Shops.Default()
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
