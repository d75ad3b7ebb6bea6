package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/memeraffle-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса мем-кредитов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/credits", h.GetCredits)
		r.Post("/meme", h.GenerateMeme)

		r.Group(func(r chi.Router) {
			r.Use(h.signature.Middleware)

			r.Post("/webhook", h.Webhook)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", h.AdminStats)
			r.Post("/reset", h.ResetBalance)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
