package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/coinarena/ledger-engine/internal/auth"
	"github.com/coinarena/ledger-engine/internal/metrics"
)

// RequestTimeout bounds every non-streaming request.
const RequestTimeout = 30 * time.Second

// NewRouter builds the HTTP surface. ws may be nil to disable the trade
// stream endpoint.
func NewRouter(h *Handlers, ws http.HandlerFunc, tokens *auth.JWTService, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket stream of executed trades; long-lived, so no timeout.
		if ws != nil {
			r.Get("/ws", ws)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(RequestTimeout))

			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)

			r.Get("/leaderboard", h.Leaderboard)
			r.Get("/markets", h.ListMarkets)
			r.Get("/users/{accountID}/portfolio", h.GetUserPortfolio)

			r.Group(func(r chi.Router) {
				r.Use(auth.Middleware(tokens))

				r.Post("/trade/buy", h.Buy)
				r.Post("/trade/sell", h.Sell)
				r.Get("/portfolio", h.GetPortfolio)
				r.Get("/trades", h.ListTrades)
				r.Patch("/account", h.UpdateAccount)
			})
		})
	})

	return r
}
