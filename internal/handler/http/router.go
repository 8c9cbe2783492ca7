package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamtube/account-service/internal/auth"
	"github.com/streamtube/account-service/internal/health"
	"github.com/streamtube/account-service/internal/middleware"
	"github.com/streamtube/account-service/internal/service"
)

// RouterConfig carries everything the router needs to assemble the API.
type RouterConfig struct {
	Service        *service.AccountService
	Issuer         *auth.TokenIssuer
	Health         *health.Handler
	Logger         *slog.Logger
	AllowedOrigins []string
}

// NewRouter builds the chi router with the full middleware chain and all
// account endpoints mounted under /api/v1/users.
func NewRouter(cfg RouterConfig) *chi.Mux {
	authHandler := NewAuthHandler(cfg.Service)
	accountHandler := NewAccountHandler(cfg.Service)

	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Metrics)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(CORS(cfg.AllowedOrigins))

	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh-token", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(cfg.Issuer, cfg.Service))

			r.Delete("/logout", authHandler.Logout)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Get("/current-user", accountHandler.CurrentUser)
			r.Post("/current-user", accountHandler.CurrentUser)
			r.Put("/update-account-details", accountHandler.UpdateDetails)
			r.Put("/update-avatar", accountHandler.UpdateAvatar)
			r.Put("/update-cover-image", accountHandler.UpdateCoverImage)
		})
	})

	return r
}
