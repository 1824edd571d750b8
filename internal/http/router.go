// Package http exposes the relay over websockets together with the session
// admin, health and metrics routes.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meeting-translation-relay/internal/service/relay"
	"meeting-translation-relay/internal/store"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Manager  *relay.Manager
	Sessions store.SessionStore
	// JWTSecret enables HS256 bearer auth on every /v1 route except health.
	JWTSecret string
	// Ready reports readiness. A nil Ready is always ready.
	Ready func() bool
	// Base is cancelled on shutdown. Upgraded connections are not tracked by
	// http.Server, so relays watch Base to stop.
	Base context.Context
	// Metrics is served on /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(d Deps) http.Handler {
	if d.Base == nil {
		d.Base = context.Background()
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	h := &handlers{deps: d}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if d.Ready != nil && !d.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", d.Metrics)

	r.Route("/v1", func(r chi.Router) {
		if d.JWTSecret != "" {
			r.Use(bearerAuth([]byte(d.JWTSecret)))
		}
		r.Get("/relay", h.relay)
		r.Post("/sessions", h.createSession)
		r.Get("/sessions", h.liveSessions)
		r.Get("/sessions/{sessionID}", h.getSession)
		r.Get("/sessions/{sessionID}/listen", h.listen)
	})

	return r
}
