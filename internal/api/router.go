package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/pis", s.handleListPis)
		r.Post("/led/on", s.handleLEDShorthand("on"))
		r.Post("/led/off", s.handleLEDShorthand("off"))
	})

	// Dashboard routes kept at the root for existing frontends.
	r.Post("/send-command", s.handleSendCommand)
	r.Post("/take-photo", s.handleTakePhoto)
	r.Get("/latest-photo", s.handleLatestPhoto)
	r.Get("/led-status", s.handleLEDStatus)
	r.Get("/led-events", s.handleLEDEvents)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	if s.dashboard != nil {
		r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/dashboard/", http.StatusMovedPermanently)
		})
		r.Handle("/dashboard/*", http.StripPrefix("/dashboard", s.dashboard))
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": nowISO(),
		"version":   s.version,
	})
}
