package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/chaumfed/fedwallet/internal/api/handlers"
	"github.com/chaumfed/fedwallet/internal/api/middleware"
	"github.com/chaumfed/fedwallet/internal/config"
	"github.com/chaumfed/fedwallet/internal/wallet"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter creates and configures the Chi router with all middleware and
// routes for one federation peer's wallet module.
func NewRouter(w *wallet.Wallet, cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	// Middleware stack (order matters)
	r.Use(middleware.RequestLogging)
	r.Use(middleware.HostCheck)
	r.Use(middleware.CORS)
	r.Use(middleware.CSRF)

	slog.Info("router initialized",
		"middleware", []string{"requestLogging", "hostCheck", "cors", "csrf"},
	)

	r.Get("/healthz", handlers.Healthz())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(cfg, Version))
		r.Get("/block_height", handlers.BlockHeight(w))
		r.Post("/peg_out_fees", handlers.PegOutFees(w))
		r.Get("/audit", handlers.Audit(w))
	})

	return r
}
