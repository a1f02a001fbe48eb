package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/memory-permissions/internal/auth"
	"github.com/frahmantamala/memory-permissions/internal/permission"
	"github.com/frahmantamala/memory-permissions/internal/transport/middleware"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

type Handlers struct {
	Health     *HealthHandler
	Auth       *auth.Handler
	Permission *permission.Handler
}

// NewRouter mounts every route under /api.
func NewRouter(h Handlers, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()
	RegisterAllRoutes(router, h, logger)
	return router
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, logger *slog.Logger) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.BodyLimit(middleware.DefaultMaxBodyBytes))
	router.Use(middleware.LoggingMiddleware(logger))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"route not found"}` + "\n"))
	})

	router.Route("/api", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/register", h.Auth.Register)
			sr.Post("/login", h.Auth.Login)
			sr.Post("/logout", h.Auth.Logout)
			sr.Get("/verify-token", h.Auth.VerifyToken)
		})

		// Protected routes that require authentication
		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			pr.Get("/users/search", h.Permission.SearchUsers)

			pr.Route("/permissions", func(ps chi.Router) {
				ps.Get("/", h.Permission.ListMine)
				ps.Post("/", h.Permission.Assign)
				ps.Delete("/", h.Permission.Revoke)
				ps.Get("/getByUserId", h.Permission.ListMine)
				ps.Get("/available", h.Permission.Available)
				ps.Post("/getByMemoryIds", h.Permission.GetByMemoryIDs)
				ps.Get("/users/search", h.Permission.SearchUsers)
			})

			pr.Route("/memory/{memoryId}/permissions", func(ms chi.Router) {
				ms.Get("/", h.Permission.MemoryPermissions)
				ms.Post("/", h.Permission.Assign)
				ms.Delete("/", h.Permission.Revoke)
			})
		})
	})
}
