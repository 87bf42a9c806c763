package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thumbgen/thumbgen-backend/api/controllers"
	webhookcontrollers "github.com/thumbgen/thumbgen-backend/api/controllers/webhooks"
	"github.com/thumbgen/thumbgen-backend/api/middleware"
	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/internal/generations"
	"github.com/thumbgen/thumbgen-backend/internal/ledger"
	"github.com/thumbgen/thumbgen-backend/internal/subscriptions"
	stripewebhook "github.com/thumbgen/thumbgen-backend/internal/webhooks/stripe"
	"github.com/thumbgen/thumbgen-backend/pkg/config"
	"github.com/thumbgen/thumbgen-backend/pkg/db"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
	"github.com/thumbgen/thumbgen-backend/pkg/redis"
	"github.com/thumbgen/thumbgen-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	limiter middleware.RateLimiterStore,
	accountService accounts.Service,
	ledgerService ledger.Service,
	generationService generations.Service,
	subscriptionService subscriptions.Service,
	stripeClient *stripe.Client,
	webhookService *stripewebhook.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	sessionPolicy := middleware.NewRateLimitPolicy(
		"session-create",
		cfg.RateLimit.SessionWindow,
		cfg.RateLimit.SessionLimit,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(sessionPolicy, limiter, logg)).
			Post("/session", controllers.SessionCreate(accountService, cfg.Session, logg))
		r.Get("/plans", controllers.PlanCatalog())
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(webhookService, stripeClient, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Session, logg))

			r.Post("/session/refresh", controllers.SessionRefresh(accountService, cfg.Session, logg))
			r.Get("/account", controllers.AccountProfile(accountService, logg))
			r.Get("/account/balance", controllers.AccountBalance(ledgerService, logg))
			r.Get("/account/history", controllers.AccountHistory(ledgerService, logg))
			r.Post("/generations", controllers.Generate(generationService, logg))

			r.Route("/subscription", func(r chi.Router) {
				r.Get("/", controllers.SubscriptionFetch(subscriptionService, logg))
				r.Post("/change-plan", controllers.SubscriptionChangePlan(subscriptionService, logg))
				r.Post("/cancel", controllers.SubscriptionCancel(subscriptionService, logg))
				r.Post("/reactivate", controllers.SubscriptionReactivate(subscriptionService, logg))
			})
		})
	})

	return r
}
