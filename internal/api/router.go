/**
 * @description
 * HTTP router setup for the raffle-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers raffle routes.
func NewRouter(h *RaffleHandlers, adminKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Raffle service is healthy"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/tokens/{tokenID}", h.GetTokenHandler)

		r.Route("/raffle", func(r chi.Router) {
			r.Post("/enter", h.EnterRaffleHandler)
			r.Get("/current", h.CurrentRaffleHandler)
			r.Get("/history", h.RaffleHistoryHandler)
			r.Get("/latest-winners", h.LatestWinnersHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(InternalAuthMiddleware(adminKey))
			r.Post("/tokens/generate", h.GenerateTokensHandler)
			r.Get("/tokens", h.ListTokensHandler)
			r.Put("/tokens/{tokenID}/balance", h.SetTokenBalanceHandler)
			r.Get("/settings", h.GetSettingsHandler)
			r.Put("/settings", h.UpdateSettingsHandler)
			r.Post("/draw", h.TriggerDrawHandler)
			r.Post("/reset", h.ResetHandler)
		})
	})

	return r
}
