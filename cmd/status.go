package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect transaction status",
}

var (
	pollInterval time.Duration
	pollTimeout  time.Duration
)

var statusPollCmd = &cobra.Command{
	Use:   "poll [custRefNum]",
	Short: "Poll the gateway until a transaction is final",
	Long:  `Ask the gateway for the status of a transaction on a fixed interval until it settles, fails or the timeout elapses`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pollStatus(args[0])
	},
}

var statusCheckCmd = &cobra.Command{
	Use:   "check [custRefNum]",
	Short: "Run a single status enquiry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkStatus(args[0])
	},
}

func pollStatus(custRefNum string) error {
	cfg, lg, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer app.Close()

	interval := cfg.Polling.Interval
	if pollInterval > 0 {
		interval = pollInterval
	}
	timeout := cfg.Polling.Timeout
	if pollTimeout > 0 {
		timeout = pollTimeout
	}

	poller := transaction.NewPoller(app.Service, interval, timeout, lg)
	result, err := poller.Poll(ctx, custRefNum)
	if err != nil {
		return err
	}
	return printResult(result)
}

func checkStatus(custRefNum string) error {
	cfg, lg, err := bootstrap()
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Service.CheckStatus(ctx, custRefNum)
	if err != nil {
		return err
	}
	return printResult(result)
}

func printResult(result *transaction.StatusResult) error {
	out := struct {
		Transaction transaction.TransactionResponse `json:"transaction"`
		Source      string                          `json:"source"`
		Warning     string                          `json:"warning,omitempty"`
	}{
		Transaction: result.Transaction.ToResponse(),
		Source:      result.Source,
		Warning:     result.Warning,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("print status: %w", err)
	}
	return nil
}

func init() {
	statusPollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Time between status enquiries (overrides config)")
	statusPollCmd.Flags().DurationVar(&pollTimeout, "timeout", 0, "Give up after this long (overrides config)")

	statusCmd.AddCommand(statusPollCmd)
	statusCmd.AddCommand(statusCheckCmd)
}
