package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-drivers/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/api/ws"
	}

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requirePermission(auth.PermDriverRead)).Get(wsPath, s.handleWebSocket)

		r.Route("/api/drivers", func(r chi.Router) {
			read := r.With(s.requirePermission(auth.PermDriverRead))
			configure := r.With(s.requirePermission(auth.PermDriverConfigure))

			read.Get("/", s.handleListDrivers)
			configure.Put("/", s.handlePutDriver)

			r.Route("/{moniker}", func(r chi.Router) {
				read := r.With(s.requirePermission(auth.PermDriverRead))

				read.Get("/", s.handleGetDriver)
				r.With(s.requirePermission(auth.PermDriverConfigure)).Delete("/", s.handleDeleteDriver)
				read.Get("/fields", s.handleListFields)
				read.Get("/fields/{name}", s.handleGetField)
				r.With(s.requirePermission(auth.PermFieldWrite)).Put("/fields/{name}", s.handlePutField)
				r.With(s.requirePermission(auth.PermCommandRun)).Post("/commands", s.handleCommand)
			})
		})

		r.With(s.requirePermission(auth.PermDriverRead)).Get("/api/triggers", s.handleListTriggers)
	})

	return r
}

// handleHealth returns the server health status. It is never authenticated.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"drivers": len(s.drivers.Statuses()),
	})
}
