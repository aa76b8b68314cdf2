package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/terminalpay-backend/api/controllers"
	"github.com/angelmondragon/terminalpay-backend/api/middleware"
	"github.com/angelmondragon/terminalpay-backend/internal/payments"
	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

// RouterParams carries the handlers' collaborators.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Deps     controllers.Dependencies
	Payments payments.Service
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Deps))
	})
	r.Get("/db-health", controllers.DBHealth(params.Deps.DB, logg))

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Post("/pay", controllers.PaymentPay(params.Payments, logg))
		r.Get("/policy", controllers.PaymentPolicy(params.Payments))

		r.Route("/{paymentId}", func(r chi.Router) {
			r.Get("/", controllers.PaymentGet(params.Payments, logg))
			r.Get("/events", controllers.PaymentEvents(params.Payments, logg))
			r.Post("/events", controllers.PaymentApplyEvent(params.Payments, logg))
			r.Post("/cancel", controllers.PaymentCancel(params.Payments, logg))
		})
	})

	return r
}
