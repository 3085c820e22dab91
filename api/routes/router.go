package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftline/fantasy-backend/api/controllers"
	webhookcontrollers "github.com/draftline/fantasy-backend/api/controllers/webhooks"
	"github.com/draftline/fantasy-backend/api/middleware"
	"github.com/draftline/fantasy-backend/internal/eventlock"
	stripewebhook "github.com/draftline/fantasy-backend/internal/webhooks/stripe"
	"github.com/draftline/fantasy-backend/pkg/config"
	"github.com/draftline/fantasy-backend/pkg/db"
	"github.com/draftline/fantasy-backend/pkg/logger"
	"github.com/draftline/fantasy-backend/pkg/metrics"
	"github.com/draftline/fantasy-backend/pkg/redis"
	"github.com/draftline/fantasy-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	stripeClient *stripe.Client,
	processor *stripewebhook.Processor,
	locks *eventlock.Repository,
	guard *stripewebhook.IdempotencyGuard,
	registry *prometheus.Registry,
	webhookMetrics *metrics.WebhookMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(processor, stripeClient, locks, guard, webhookMetrics, logg))
	})

	return r
}
