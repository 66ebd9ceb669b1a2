package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/railpay/internal/api/handlers"
	"github.com/Fantasim/railpay/internal/api/middleware"
	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/engine"
	"github.com/Fantasim/railpay/internal/feed"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter creates and configures the chi router with all middleware and routes.
func NewRouter(eng *engine.Engine, hub *feed.Hub, cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging)

	deps := &handlers.Deps{
		Engine: eng,
		Config: cfg,
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/decode", handlers.Decode(deps))
		r.Post("/quote", handlers.Quote(deps))
		r.Post("/send", handlers.Send(deps))
		r.Get("/feed", handlers.Feed(deps))
		r.Get("/feed/sse", handlers.FeedSSE(deps, hub))
		r.Get("/health", handlers.Health(cfg, Version))
	})

	slog.Info("router initialized", "middleware", []string{"requestLogging"})

	return r
}
