package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/core/events"
	"github.com/frahmantamala/skillpay-gateway/internal/paymentgateway"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
)

// App holds the domain services shared by the server, worker and status
// commands.
type App struct {
	Config   *internal.Config
	Logger   *slog.Logger
	Store    *Store
	EventBus *events.EventBus
	Gateway  *paymentgateway.Client
	Tracker  *transaction.Tracker
	Service  *transaction.Service
	Poller   *transaction.Poller
	Audit    *transaction.EventHandler
}

func newApp(ctx context.Context, cfg *internal.Config, lg *slog.Logger) (*App, error) {
	codec, err := paymentgateway.NewCodec(cfg.Gateway.AuthKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway codec: %w", err)
	}

	store, err := openStore(ctx, cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := paymentgateway.NewClient(paymentgateway.Config{
		APIURL:           cfg.Gateway.APIURL,
		AuthID:           cfg.Gateway.AuthID,
		AuthKey:          cfg.Gateway.AuthKey,
		CallbackURL:      cfg.Gateway.ResolveCallbackURL(),
		Timeout:          cfg.Gateway.RequestTimeout,
		StatusEncryption: cfg.Gateway.StatusEncryption,
		StatusRetries:    cfg.Gateway.StatusRetries,
		RetryInterval:    cfg.Gateway.RetryInterval,
	}, codec, lg)

	eventBus := events.NewEventBus(lg)
	audit := transaction.NewEventHandler(lg)
	audit.RegisterEventHandlers(eventBus)

	tracker := transaction.NewTracker(store.Repo, eventBus, lg)
	service := transaction.NewService(tracker, client, lg)
	poller := transaction.NewPoller(service, cfg.Polling.Interval, cfg.Polling.Timeout, lg)

	if cfg.Store.SeedDemo {
		seeded, err := tracker.Seed(ctx, transaction.DemoTransactions())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed demo transactions: %w", err)
		}
		lg.Info("demo transactions seeded", "inserted", seeded)
	}

	return &App{
		Config:   cfg,
		Logger:   lg,
		Store:    store,
		EventBus: eventBus,
		Gateway:  client,
		Tracker:  tracker,
		Service:  service,
		Poller:   poller,
		Audit:    audit,
	}, nil
}

// Close waits for in-flight events and releases the store.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.EventBus.Close(ctx); err != nil {
		a.Logger.Warn("event delivery unfinished at shutdown", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("store close error", "error", err)
	}
	settled, failed := a.Audit.Totals()
	a.Logger.Info("transaction totals", "settled", settled, "failed", failed)
}
