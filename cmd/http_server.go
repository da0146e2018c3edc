package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/skillpay-gateway/api"
	"github.com/frahmantamala/skillpay-gateway/internal/auth"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/transport"
	"github.com/frahmantamala/skillpay-gateway/internal/transport/middleware"
	"github.com/frahmantamala/skillpay-gateway/internal/transport/rest"
)

var withReconciler bool

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle payment, callback and status requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func init() {
	httpServerCmd.Flags().BoolVar(&withReconciler, "reconcile", false, "also run the pending transaction status worker in-process")
}

func startHTTPServer() {
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

	deps, err := routeDependencies(ctx, app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize routes: %v\n", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, deps)

	var pool *paymentgateway.Pool
	if withReconciler {
		pool = startReconciler(ctx, app)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	lg.Info("Starting HTTP server", "address", addr, "store", app.Store.Driver)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		lg.Info("Received signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("Server failed to start", "error", err)
		}
	}

	if pool != nil {
		pool.Shutdown()
	}
	lg.Info("Server stopped")
}

func routeDependencies(ctx context.Context, app *App) (rest.Dependencies, error) {
	cfg := app.Config
	base := transport.NewBaseHandler(app.Logger)

	deps := rest.Dependencies{
		Logger:             app.Logger,
		AllowedOrigins:     cfg.Server.Origins(),
		OpenAPISpec:        api.Spec,
		TransactionHandler: transaction.NewHandler(base, app.Service, app.Poller),
		WebhookHandler:     transaction.NewWebhookHandler(base, app.Service),
		HealthChecks: map[string]rest.CheckFunc{
			"store": app.Store.Check,
		},
	}

	if cfg.Server.ValidateRequests {
		doc, err := middleware.LoadOpenAPI(ctx, api.Spec)
		if err != nil {
			return deps, err
		}
		validator, err := middleware.OpenAPIValidator(doc, app.Logger)
		if err != nil {
			return deps, err
		}
		deps.RequestValidator = validator
	}

	if cfg.Security.OperatorAuth {
		tokenGen := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)
		authService := auth.NewService(auth.StaticCredentials{
			Username:     cfg.Security.OperatorUsername,
			PasswordHash: cfg.Security.OperatorPasswordHash,
		}, tokenGen)
		deps.AuthHandler = auth.NewHandler(base, authService)
	}

	return deps, nil
}
