package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CrowCommerce/reviews-service/internal/service"
	"github.com/CrowCommerce/reviews-service/pkg/health"
	"github.com/CrowCommerce/reviews-service/pkg/middleware"
)

// RouterConfig carries the router-level knobs sourced from service config.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	SubmitRPS      int
	SubmitBurst    int
}

// NewRouter creates a chi router with all reviews service routes registered.
func NewRouter(
	reviewService *service.ReviewService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Environment:    cfg.Environment,
	}))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("reviews"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	reviewHandler := NewReviewHandler(reviewService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/products/{productId}/reviews", func(r chi.Router) {
			// Review submission is the only anonymous write path and gets
			// a per-IP rate limit.
			r.With(middleware.RateLimit(cfg.SubmitRPS, cfg.SubmitBurst, logger)).
				Post("/", reviewHandler.CreateReview)

			r.Get("/", reviewHandler.ListReviews)
			r.Get("/summary", reviewHandler.GetSummary)

			// Admin reconciliation
			r.Post("/recompute", reviewHandler.RecomputeStats)
		})

		r.Route("/reviews/{reviewId}", func(r chi.Router) {
			r.Get("/", reviewHandler.GetReview)
			r.Put("/status", reviewHandler.UpdateStatus)
			r.Delete("/", reviewHandler.DeleteReview)
			r.Post("/response", reviewHandler.RespondToReview)
		})
	})

	return r
}
