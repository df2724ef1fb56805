package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-lpr/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	LPRs    *LPRHandler
	Cameras *CameraHandler
	Sites   *SiteHandler
	Traffic *TrafficHandler
	Users   *UserHandler
	Auth    *AuthHandler
	WS      *WSHandler
	Health  *HealthHandler

	JWT       *middleware.JWTAuth
	RateLimit *middleware.RateLimitMiddleware
}

// NewRouter wires the admin surface. Everything under /api/v1 except auth
// requires a valid access token.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)
	r.Use(middleware.Metrics)
	if h.RateLimit != nil {
		r.Use(h.RateLimit.GlobalLimiter)
	}

	r.Get("/healthz", h.Health.Livez)
	r.Get("/readyz", h.Health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			login := http.HandlerFunc(h.Auth.Login)
			if h.RateLimit != nil {
				r.Method("POST", "/login", h.RateLimit.LoginLimiter(login))
			} else {
				r.Post("/login", login)
			}
			r.Post("/refresh", h.Auth.Refresh)
			r.Post("/logout", h.Auth.Logout)
		})

		// Websocket authenticates via query token inside the handler.
		r.Get("/ws", h.WS.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(h.JWT.Middleware)

			r.Route("/lprs", func(r chi.Router) {
				r.Post("/", h.LPRs.Create)
				r.Get("/", h.LPRs.List)
				r.Get("/{id}", h.LPRs.Get)
				r.Put("/{id}", h.LPRs.Update)
				r.Delete("/{id}", h.LPRs.Delete)
				r.Post("/{id}/toggle", h.LPRs.Toggle)
				r.Get("/{id}/status", h.LPRs.ConnectionStatus)
				r.Post("/{id}/command", h.LPRs.SendCommand)
				r.Get("/{id}/settings", h.LPRs.ListSettings)
				r.Put("/{id}/settings", h.LPRs.UpsertSetting)
				r.Delete("/{id}/settings", h.LPRs.DeleteSetting)
			})

			r.Route("/cameras", func(r chi.Router) {
				r.Post("/", h.Cameras.Create)
				r.Get("/", h.Cameras.List)
				r.Get("/{id}", h.Cameras.Get)
				r.Put("/{id}", h.Cameras.Update)
				r.Delete("/{id}", h.Cameras.Delete)
				r.Put("/{id}/settings", h.Cameras.UpsertSetting)
				r.Delete("/{id}/settings", h.Cameras.DeleteSetting)
			})

			r.Route("/buildings", func(r chi.Router) {
				r.Post("/", h.Sites.CreateBuilding)
				r.Get("/", h.Sites.ListBuildings)
				r.Delete("/{id}", h.Sites.DeleteBuilding)
			})

			r.Route("/gates", func(r chi.Router) {
				r.Post("/", h.Sites.CreateGate)
				r.Get("/", h.Sites.ListGates)
				r.Delete("/{id}", h.Sites.DeleteGate)
			})

			r.Route("/traffic", func(r chi.Router) {
				r.Get("/", h.Traffic.List)
				r.Get("/image-url", h.Traffic.ImageURL)
			})

			r.Route("/users", func(r chi.Router) {
				r.Post("/", h.Users.Create)
				r.Get("/", h.Users.List)
				r.Get("/{id}", h.Users.Get)
				r.Delete("/{id}", h.Users.Delete)
				r.Post("/{id}/profile-image", h.Users.UploadProfileImage)
			})
		})
	})

	return r
}
