package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that keep transactions moving toward a final status.`,
}

var statusWorkerCmd = &cobra.Command{
	Use:   "status",
	Short: "Start the status enquiry worker pool",
	Long:  `Periodically sweep pending transactions and ask the gateway for their status until they settle or fail`,
	Run: func(cmd *cobra.Command, args []string) {
		startStatusWorker()
	},
}

var (
	maxWorkers    int
	jobQueueSize  int
	batchSize     int
	sweepInterval time.Duration
)

func startStatusWorker() {
	cfg, lg, err := bootstrap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	pool := startReconciler(ctx, app)

	lg.Info("status worker is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	lg.Info("received signal, shutting down status worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		lg.Info("status worker pool shutdown complete")
	case <-shutdownCtx.Done():
		lg.Warn("shutdown timeout reached, forcing exit")
	}
}

// startReconciler starts the worker pool and a sweep loop feeding it. The
// loop stops with ctx; the caller shuts the pool down.
func startReconciler(ctx context.Context, app *App) *paymentgateway.Pool {
	polling := app.Config.Polling

	poolConfig := paymentgateway.PoolConfig{
		MaxWorkers:   getIntFlag(maxWorkers, polling.MaxWorkers),
		JobQueueSize: getIntFlag(jobQueueSize, polling.JobQueueSize),
	}
	pool := paymentgateway.NewPool(poolConfig, app.Service.ProcessStatusJob, app.Logger)

	interval := polling.SweepInterval
	if sweepInterval > 0 {
		interval = sweepInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	reconciler := transaction.NewReconciler(app.Tracker, pool, getIntFlag(batchSize, polling.BatchSize), app.Logger)
	go reconciler.Run(ctx, interval)

	app.Logger.Info("starting status worker",
		"max_workers", poolConfig.MaxWorkers,
		"job_queue_size", poolConfig.JobQueueSize,
		"sweep_interval", interval)

	return pool
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	statusWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	statusWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	statusWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Pending transactions per sweep (overrides config)")
	statusWorkerCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 0, "Time between sweeps (overrides config)")

	workerCmd.AddCommand(statusWorkerCmd)
}
