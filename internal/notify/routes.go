package notify

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the notification pipeline's HTTP mux: the config
// endpoints, the unsubscribe link, and a health check. Mirrors the
// teacher's own route-setup shape (middleware stack, then CORS, then an
// unauthenticated health check before anything else).
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Get("/notifications-unsubscribe", h.Unsubscribe)

	r.Get("/api/docs/{docID}/notifications-config", h.GetNotificationsConfig)
	r.Post("/api/docs/{docID}/notifications-config", h.SetNotificationsConfig)

	r.Post("/internal/bundles/commit", h.CommitBundle)

	return r
}
