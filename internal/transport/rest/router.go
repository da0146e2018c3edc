package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/skillpay-gateway/internal/auth"
	"github.com/frahmantamala/skillpay-gateway/internal/transaction"
	"github.com/frahmantamala/skillpay-gateway/internal/transport/middleware"
	"github.com/frahmantamala/skillpay-gateway/internal/transport/swagger"
)

// Dependencies are the handlers and settings the router mounts. AuthHandler
// is nil when operator auth is disabled, which leaves the listing endpoints
// open. RequestValidator is optional.
type Dependencies struct {
	Logger             *slog.Logger
	AllowedOrigins     []string
	OpenAPISpec        []byte
	RequestValidator   func(http.Handler) http.Handler
	TransactionHandler *transaction.Handler
	WebhookHandler     *transaction.WebhookHandler
	AuthHandler        *auth.Handler
	HealthChecks       map[string]CheckFunc
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) {
	logger := deps.Logger
	healthHandler := NewHealthHandler(deps.HealthChecks)

	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	if len(deps.OpenAPISpec) > 0 {
		router.Get(swagger.SpecPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			w.Write(deps.OpenAPISpec)
		})
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// the gateway posts callbacks in several shapes; they are not
		// checked against the API description
		if deps.WebhookHandler != nil {
			r.Post("/payment/callback", deps.WebhookHandler.HandlePaymentCallback)
			r.Get("/payment/callback", deps.WebhookHandler.HandleCallbackRedirect)
		}

		r.Group(func(vr chi.Router) {
			if deps.RequestValidator != nil {
				vr.Use(deps.RequestValidator)
			}

			if deps.AuthHandler != nil {
				vr.Post("/auth/login", deps.AuthHandler.Login)
			}

			if deps.TransactionHandler == nil {
				return
			}
			h := deps.TransactionHandler

			vr.Post("/payment/init", h.InitiatePayment)
			vr.Get("/payment/status", h.PaymentStatus)

			vr.Group(func(pr chi.Router) {
				if deps.AuthHandler != nil {
					pr.Use(deps.AuthHandler.AuthMiddleware)
				}
				pr.Get("/transactions", h.ListTransactions)
				pr.Get("/transactions/{custRefNum}", h.GetTransaction)
			})
		})
	})
}
