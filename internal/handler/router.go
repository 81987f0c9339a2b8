package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	chathandler "github.com/boddenberg/facturedirect-bot-go/internal/chat/handler"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	"github.com/boddenberg/facturedirect-bot-go/internal/service"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency (database, session store...).
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthCheckTimeout bounds each probe so /healthz stays fast.
const healthCheckTimeout = 2 * time.Second

// NewRouter creates the HTTP router with all routes and middleware.
// A nil webhook or admin service leaves the matching routes unmounted.
func NewRouter(webhook *chathandler.WebhookHandler, adminSvc *service.AdminService, authSvc *service.AuthService,
	checks []HealthCheck, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(checks))
	r.Get("/readyz", readyzHandler(checks, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- WhatsApp (Twilio) ---
	if webhook != nil {
		r.Get("/webhooks/whatsapp", webhook.Verify)
		r.Post("/webhooks/whatsapp", webhook.Receive)
	}

	// --- Admin API v1 ---
	if adminSvc != nil && authSvc != nil {
		r.Route("/v1/admin", func(r chi.Router) {
			r.Post("/token", adminLoginHandler(authSvc, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(authSvc, logger))

				r.Get("/conversations/{phone}", getConversationHandler(adminSvc, logger))
				r.Delete("/conversations/{phone}", resetConversationHandler(adminSvc, logger))
				r.Post("/sweep", sweepHandler(adminSvc, logger))
				r.Get("/metrics/bot", botMetricsHandler(adminSvc))
			})
		})
	}

	return r
}

// ============================================================
// Health
// ============================================================

func runChecks(ctx context.Context, checks []HealthCheck) domain.HealthStatus {
	now := time.Now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "bot-api", Status: "healthy", LastChecked: now},
	}

	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		start := time.Now()
		err := c.Check(cctx)
		cancel()

		sh := domain.ServiceHealth{
			Name:        c.Name,
			Status:      "healthy",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		}
		if err != nil {
			sh.Status = "unhealthy"
			sh.Error = err.Error()
		}
		services = append(services, sh)
	}

	overall := "healthy"
	for _, s := range services {
		if s.Status != "healthy" {
			overall = "degraded"
			break
		}
	}
	return domain.HealthStatus{Status: overall, Services: services}
}

// healthzHandler always answers 200; the body tells which dependency is down.
func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, runChecks(r.Context(), checks))
	}
}

// readyzHandler answers 503 while any dependency is down, so the
// load balancer stops routing webhooks to this instance.
func readyzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := runChecks(r.Context(), checks)
		if status.Status != "healthy" {
			logger.Warn("readiness check failed", zap.Any("services", status.Services))
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
