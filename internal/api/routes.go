package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"smartbox/internal/action"
	"smartbox/internal/bridge"
	"smartbox/internal/config"
	"smartbox/internal/settings"
	"smartbox/internal/ws"
)

type Dependencies struct {
	Bridge    *bridge.Bridge
	Envelopes bridge.EnvelopeValidator
	Registry  *action.Registry
	Store     *config.Store
	Codec     *settings.Codec
	Hub       *ws.Hub
	Metrics   http.Handler
	BaseURL   string
	Log       *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(d.Log))

	r.Get("/healthz", d.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/actions", d.postAction)
		r.Get("/actions", d.listActions)
		r.Get("/settings", d.getSettings)
	})

	r.Get("/media/*", d.getMedia)

	r.Get("/ws", d.wsHandler)

	return r
}
