// Package api exposes the trading engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/papertrade/trading-engine/internal/account"
	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/hub"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/trade"
	"github.com/papertrade/trading-engine/internal/wallet"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Accounts *account.Service
	Wallet   *wallet.Service
	Engine   trade.Engine
	Prices   hub.Snapshotter
	Hub      *hub.Hub
	Tokens   *auth.TokenManager

	// Health reports storage problems; nil means always healthy.
	Health func(ctx context.Context) error

	CORSOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
}

// NewServer creates the handler set.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router builds the full HTTP surface with middleware.
func (s *Server) Router() http.Handler {
	origins := s.deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived push channel; kept out of the request timeout.
		if s.deps.Hub != nil {
			r.Get("/ws", s.deps.Hub.HandleWS(s.deps.Prices))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/market/prices", s.prices)

			r.Post("/users/register", s.register)
			r.Post("/users/token", s.token)

			r.Group(func(r chi.Router) {
				r.Use(s.deps.Tokens.Middleware)

				r.Get("/users/me", s.me)
				r.Post("/users/me/deactivate", s.deactivate)
				r.Post("/users/wallet/update", s.updateWallet)
				r.Get("/users/wallet/transactions", s.transactions)

				r.Post("/trades/place-order", s.placeOrder)
				r.Get("/trades/history", s.history)
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "service": "trading-engine"}
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["detail"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) prices(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Prices.Snapshot()
	out := make(map[string]hub.Quote, len(snap))
	for sym, t := range snap {
		out[sym] = hub.NewQuote(t)
	}
	writeJSON(w, http.StatusOK, out)
}
