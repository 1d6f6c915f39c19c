package routegroups

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"incident-registry/api/handlers"
	"incident-registry/core/rbac"
)

type Guards struct {
	WithPrincipal     func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(rbac.Permission) func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) PrincipalPerm(perm rbac.Permission, next http.HandlerFunc) http.HandlerFunc {
	return g.WithPrincipal(g.RequirePermission(perm)(next))
}

func RegisterIncidents(apiRouter chi.Router, g Guards, incidents *handlers.IncidentsHandler) {
	apiRouter.Route("/incidents", func(incidentsRouter chi.Router) {
		incidentsRouter.MethodFunc("GET", "/", g.PrincipalPerm(rbac.PermIncidentsRead, incidents.List))
		incidentsRouter.MethodFunc("POST", "/", g.PrincipalPerm(rbac.PermIncidentsWrite, incidents.Create))
		incidentsRouter.MethodFunc("GET", "/stats", g.PrincipalPerm(rbac.PermIncidentsRead, incidents.Stats))
		incidentsRouter.MethodFunc("GET", "/{id}/history", g.PrincipalPerm(rbac.PermIncidentsRead, incidents.History))
		incidentsRouter.MethodFunc("PUT", "/{id}", g.PrincipalPerm(rbac.PermIncidentsWrite, incidents.Update))
		incidentsRouter.MethodFunc("DELETE", "/{id}", g.PrincipalPerm(rbac.PermIncidentsDelete, incidents.Delete))
	})
}
