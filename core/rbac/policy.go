package rbac

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

const (
	PermIncidentsRead   Permission = "incidents.read"
	PermIncidentsWrite  Permission = "incidents.write"
	PermIncidentsDelete Permission = "incidents.delete"
)

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

const modelText = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

// Policy maps roles to permissions. admin inherits editor, editor inherits viewer.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	policies := [][]string{
		{"role::" + RoleViewer, string(PermIncidentsRead)},
		{"role::" + RoleEditor, string(PermIncidentsWrite)},
		{"role::" + RoleAdmin, string(PermIncidentsDelete)},
	}
	if _, err := e.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("rbac policies: %w", err)
	}
	groupings := [][]string{
		{"role::" + RoleEditor, "role::" + RoleViewer},
		{"role::" + RoleAdmin, "role::" + RoleEditor},
	}
	if _, err := e.AddGroupingPolicies(groupings); err != nil {
		return nil, fmt.Errorf("rbac roles: %w", err)
	}
	return &Policy{enforcer: e}, nil
}

// Allowed reports whether any of roles grants perm. Unknown roles grant nothing.
func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		ok, err := p.enforcer.Enforce("role::"+role, string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}
