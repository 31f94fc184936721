package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/mycred-memberships/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
// Запросы, меняющие состояние, должны быть подписаны секретом хост-системы.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger, h.metrics))

	r.Route("/api", func(r chi.Router) {
		r.Get("/preferences", h.GetPreferences)
		r.Get("/plans", h.GetPlans)
		r.Get("/references", h.GetReferences)
		r.Get("/users/{userID}/balance", h.GetBalance)
		r.Get("/users/{userID}/entries", h.GetEntries)

		r.Group(func(r chi.Router) {
			r.Use(h.signature.Middleware)

			r.Post("/grants", h.Grant)
			r.Put("/preferences", h.SavePreferences)
			r.Put("/plans", h.SyncPlans)
			r.Put("/users/{userID}/exclusion", h.SetExclusion)
		})
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
