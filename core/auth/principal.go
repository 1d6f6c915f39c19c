package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
)

// Principal is the caller identity asserted by the upstream gateway.
type Principal struct {
	OrganizationID string
	ActorID        string
	Roles          []string
}

type contextKey struct{}

var PrincipalContextKey = contextKey{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok && p != nil
}

// PrincipalFromHeaders returns nil when organization or actor is missing. Several
// roles may be given comma separated.
func PrincipalFromHeaders(h http.Header) *Principal {
	org := strings.TrimSpace(h.Get(HeaderOrganizationID))
	actor := strings.TrimSpace(h.Get(HeaderActorID))
	if org == "" || actor == "" {
		return nil
	}
	var roles []string
	for _, raw := range strings.Split(h.Get(HeaderActorRole), ",") {
		if role := strings.ToLower(strings.TrimSpace(raw)); role != "" {
			roles = append(roles, role)
		}
	}
	return &Principal{OrganizationID: org, ActorID: actor, Roles: roles}
}
