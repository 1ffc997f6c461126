package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/partnerhub/internal/config"
	"github.com/pitabwire/partnerhub/internal/idempotency"
	"github.com/pitabwire/partnerhub/internal/observability"
	"github.com/pitabwire/partnerhub/internal/openapi"
	"github.com/pitabwire/partnerhub/internal/workflow"
	"github.com/pitabwire/partnerhub/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Metrics            *observability.Metrics
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Controller         *workflow.Controller
	API                *openapi.Document
	Idempotency        idempotency.Store
	Readiness          observability.ReadinessChecks
	MetricsHandler     http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API document
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled {
		metricsHandler := deps.MetricsHandler
		if metricsHandler == nil {
			metricsHandler = observability.Handler()
		}
		r.Method(http.MethodGet, metricsPath(cfg), metricsHandler)
	}
	r.Get("/openapi.yaml", handleOpenAPIDocument)

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	var idem func(http.Handler) http.Handler = passThrough
	if cfg.Idempotency.Enabled && deps.Idempotency != nil {
		idem = Idempotency(deps.Idempotency, idempotencyTTL(cfg), deps.Metrics)
	}

	ctrl := deps.Controller
	api := deps.API

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(cfg.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(LimitBody(cfg.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))

		view := RequireCapability(model.CapOnboardingView)
		stageEdit := RequireCapability(model.CapStageEdit)
		taskEdit := RequireCapability(model.CapTaskEdit)
		review := RequireCapability(model.CapReversalReview)
		comment := RequireCapability(model.CapReversalComment)

		r.With(view).Get("/catalog/stages", handleListStages())

		r.Route("/partners/{partnerId}/onboarding", func(r chi.Router) {
			r.With(view).Get("/", handleGetOnboarding(ctrl))
			r.With(stageEdit).Post("/", handleStartOnboarding(ctrl))
			r.With(view).Get("/history", handleGetHistory(ctrl))
			r.With(stageEdit, idem).Post("/stage", handleRequestStageChange(ctrl, api))
			r.With(stageEdit).Put("/stages/{stage}", handleUpdateStage(ctrl, api))
			r.With(taskEdit).Put("/stages/{stage}/tasks/{taskId}", handleToggleTask(ctrl, api))
		})

		r.Route("/approvals", func(r chi.Router) {
			r.With(review).Get("/pending", handleListPending(ctrl))
			r.With(review).Get("/{requestId}", handleGetApproval(ctrl))
			r.With(review, idem).Post("/{requestId}/decision", handleDecide(ctrl, api))
			r.With(comment).Post("/{requestId}/comments", handleComment(ctrl, api))
		})
	})

	return r
}

func handleOpenAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Raw())
}

func passThrough(next http.Handler) http.Handler { return next }

func metricsPath(cfg *config.Config) string {
	if cfg.Observability.Metrics.Path != "" {
		return cfg.Observability.Metrics.Path
	}
	return "/metrics"
}

func idempotencyTTL(cfg *config.Config) time.Duration {
	if cfg.Idempotency.Store.DefaultTTL > 0 {
		return cfg.Idempotency.Store.DefaultTTL
	}
	return 24 * time.Hour
}
