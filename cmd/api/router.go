package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devinsight/devinsight/internal/config"
	"github.com/devinsight/devinsight/internal/handler"
	"github.com/devinsight/devinsight/internal/middleware"
)

type routerDeps struct {
	cfg          *config.Config
	logger       *slog.Logger
	cache        middleware.RateLimiter
	authService  middleware.Authenticator
	base         *handler.Handler
	health       *handler.HealthHandler
	metrics      *handler.MetricsHandler
	auth         *handler.AuthHandler
	repositories *handler.RepositoryHandler
	analytics    *handler.AnalyticsHandler
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(d.cfg.GetCORSAllowedOrigins())))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	r.Get("/", d.base.Banner)
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Get("/metrics", d.metrics.Metrics)

	authn := middleware.Auth(middleware.AuthConfig{Logger: d.logger, Authenticator: d.authService})
	ipLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:    d.logger,
		Limiter:   d.cache,
		Enabled:   d.cfg.RateLimitEnabled,
		PerMinute: d.cfg.RateLimitAuthPerMinute,
	})
	userLimit := middleware.RateLimitUser(middleware.RateLimitConfig{
		Logger:    d.logger,
		Limiter:   d.cache,
		Enabled:   d.cfg.RateLimitEnabled,
		PerMinute: d.cfg.RateLimitAPIPerMinute,
	})
	validID := middleware.ValidateIDParam("id")

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(ipLimit)
				r.Post("/register", d.auth.Register)
				r.Post("/login", d.auth.Login)
				r.Post("/refresh", d.auth.Refresh)
				r.Get("/check-username", d.auth.CheckUsername)
				r.Get("/check-email", d.auth.CheckEmail)
			})
			r.Group(func(r chi.Router) {
				r.Use(authn, userLimit)
				r.Post("/logout", d.auth.Logout)
				r.With(middleware.RequireRead()).Get("/profile", d.auth.Profile)
				r.With(middleware.RequireWrite()).Put("/profile", d.auth.UpdateProfile)
				r.With(middleware.RequireWrite()).Post("/change-password", d.auth.ChangePassword)
				r.With(middleware.RequireWrite()).Post("/deactivate", d.auth.Deactivate)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authn, middleware.ScopeByMethod(), userLimit)

			r.Route("/repositories", func(r chi.Router) {
				h := d.repositories
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Get("/platforms", h.Platforms)
				r.Post("/validate", h.Validate)
				r.Get("/sync-status", h.SyncStatuses)
				r.Get("/yunxiao/search", h.SearchYunxiao)
				r.Post("/yunxiao/add", h.AddYunxiao)

				r.Route("/{id}", func(r chi.Router) {
					r.Use(validID)
					r.Get("/", h.Get)
					r.Put("/", h.Update)
					r.Delete("/", h.Delete)
					r.Post("/sync", h.Sync)
					r.Get("/sync-status", h.SyncStatus)
					r.Post("/track", h.Track)
					r.Post("/untrack", h.Untrack)
				})
			})

			r.Route("/analytics", func(r chi.Router) {
				h := d.analytics
				r.Get("/overview", h.Overview)
				r.Get("/commits", h.Commits)
				r.Get("/merge-requests", h.MergeRequests)
				r.Get("/efficiency-score", h.EfficiencyScore)
				r.Get("/time-distribution", h.TimeDistribution)
				r.Get("/contributors", h.Contributors)
				r.Get("/activity", h.Activity)
				r.With(validID).Get("/repository/{id}", h.Repository)
				r.Get("/team/productivity", h.TeamProductivity)
				r.Get("/dashboard", h.Dashboard)
			})
		})
	})

	r.NotFound(d.base.NotFound)
	r.MethodNotAllowed(d.base.MethodNotAllowed)

	return r
}
