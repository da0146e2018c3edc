package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the store with demo transactions",
	Long:  `Insert the demo transactions (one settled, one failed, one pending). References that already exist are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg, err := bootstrap()
		if err != nil {
			return err
		}
		// seeding is done explicitly below
		cfg.Store.SeedDemo = false

		ctx := context.Background()
		app, err := newApp(ctx, cfg, lg)
		if err != nil {
			return err
		}
		defer app.Close()

		inserted, err := app.Tracker.Seed(ctx, transaction.DemoTransactions())
		if err != nil {
			return fmt.Errorf("failed to seed demo transactions: %w", err)
		}

		fmt.Printf("Seeded %d demo transactions into the %s store\n", inserted, app.Store.Driver)
		return nil
	},
}
