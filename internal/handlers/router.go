package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gymble/internal/config"
	"gymble/internal/engine"
	mw "gymble/internal/middleware"
	"gymble/internal/services"
	"gymble/internal/settings"
)

type Deps struct {
	DB       *sqlx.DB
	Engine   *engine.Engine
	Uploads  *services.UploadService
	Trophies *services.TrophyService
	Settings *settings.Store
	Config   config.Config
	Logger   *zap.Logger
}

// NewRouter wires every route. Login and admin routes skip the maintenance
// gate.
func NewRouter(d Deps) http.Handler {
	authMW := mw.NewAuthMiddleware([]byte(d.Config.JWTSecret), d.Config.IsAdmin)

	authHandler := NewAuthHandler(d.DB, authMW, d.Logger)
	uploadHandler := NewUploadHandler(d.Engine, d.Uploads, d.Logger)
	dashboardHandler := NewDashboardHandler(d.Engine, d.Logger)
	adminHandler := NewAdminHandler(d.Engine, d.Trophies, d.Uploads, d.Settings, d.Logger)
	healthHandler := NewHealthHandler(d.DB, d.Settings, d.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.ZapRequestLogger(d.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(mw.NewRateLimiter(d.Config.RateLimitPerMinute).Handler)
		api.Use(authMW.Optional)

		api.Get("/health", healthHandler.Health)
		api.Get("/maintenance/status", healthHandler.MaintenanceStatus)
		api.Post("/auth/login", authHandler.Login)
		api.Post("/auth/logout", authHandler.Logout)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(authMW.RequireAuth, authMW.RequireAdmin)
			admin.Post("/verify-upload", adminHandler.VerifyUpload)
			admin.Get("/pending-uploads", adminHandler.PendingUploads)
			admin.Post("/set-trophies", adminHandler.SetTrophies)
			admin.Post("/rebuild", adminHandler.Rebuild)
			admin.Get("/stats", adminHandler.Stats)
			admin.Post("/reset-debt", adminHandler.ResetDebt)
			admin.Post("/reset-user-debt", adminHandler.ResetUserDebt)
			admin.Get("/maintenance", adminHandler.Maintenance)
			admin.Post("/maintenance", adminHandler.Maintenance)
		})

		api.Group(func(gated chi.Router) {
			gated.Use(mw.Maintenance(d.Settings, d.Logger))
			gated.Post("/auth/signup", authHandler.Signup)

			gated.Group(func(pr chi.Router) {
				pr.Use(authMW.RequireAuth)
				pr.Get("/auth/me", authHandler.Me)
				pr.Post("/upload", uploadHandler.Upload)
				pr.Post("/rest-day", uploadHandler.RestDay)
				pr.Get("/dashboard", dashboardHandler.Get)
				pr.Get("/leaderboard", dashboardHandler.Leaderboard)
			})
		})
	})
	return r
}
