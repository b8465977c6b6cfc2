package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/routing"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/service"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/health"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/middleware"
)

const serviceName = "fortressd"

// Services groups what the control API drives.
type Services struct {
	Routing     *routing.Service
	Lifecycle   *service.Lifecycle
	Activator   *service.Activator
	Deactivator *service.Deactivator
}

type RouterConfig struct {
	RateLimitRPM      int
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all control API routes registered.
func NewRouter(
	svc Services,
	verify middleware.TokenVerifier,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	accountHandler := NewAccountHandler(svc.Routing, svc.Lifecycle, logger)
	fortressHandler := NewFortressHandler(svc.Lifecycle, svc.Activator, svc.Deactivator, logger)
	blockListHandler := NewBlockListHandler(svc.Lifecycle, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRPM, logger))
		r.Use(ContentTypeJSON)

		// Public catalog
		r.Get("/plans", accountHandler.Plans)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(verify))
			r.Use(middleware.RequestLogger(logger))

			r.Get("/route", accountHandler.Route)

			r.Get("/account", accountHandler.Get)
			r.Post("/account", accountHandler.Register)
			r.Put("/account/plan", accountHandler.SelectPlan)
			r.Post("/account/device-owner", accountHandler.GrantDeviceOwner)

			r.Post("/fortress/activate", fortressHandler.Activate)
			r.Get("/fortress/status", fortressHandler.Status)
			r.Post("/fortress/unlock", fortressHandler.Unlock)
			r.Post("/fortress/clear", fortressHandler.Clear)
			r.Get("/fortress/history", fortressHandler.History)

			r.Get("/blocklist", blockListHandler.List)
			r.Post("/blocklist", blockListHandler.Add)
			r.Delete("/blocklist/{package}", blockListHandler.Remove)
		})
	})

	return r
}
