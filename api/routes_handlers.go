package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"incident-registry/api/handlers"
	"incident-registry/api/routegroups"
)

type routeHandlers struct {
	incidents *handlers.IncidentsHandler
	verify    *handlers.VerifyHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		incidents: handlers.NewIncidentsHandler(s.cfg, s.incidentsSvc.Registry, s.incidentsSvc.Stats, s.logger),
		verify:    handlers.NewVerifyHandler(s.incidentsSvc.Resolver, s.logger),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware, s.securityHeadersMiddleware, s.loggingMiddleware)
	h := s.newRouteHandlers()

	r.MethodFunc(http.MethodGet, "/healthz", s.handleHealth)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}
	r.MethodFunc(http.MethodGet, "/verify/{token}", s.verifyRateLimit(h.verify.Verify))
	r.Route("/api", func(apiRouter chi.Router) {
		routegroups.RegisterIncidents(apiRouter, routegroups.Guards{
			WithPrincipal:     s.withPrincipal,
			RequirePermission: s.requirePermission,
		}, h.incidents)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
	return r
}
