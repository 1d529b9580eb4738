package service

import (
	"context"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/gowikimark/gowikimark/pkg/gowikimark/provider"
)

// Built-in roles. RoleAll applies to every request, RoleAuthenticated to
// every signed-in user.
const (
	RoleAll           = "All"
	RoleAuthenticated = "Authenticated"
	RoleAdmin         = "Admin"
)

// grant is one permission entry: "read", "*" or "read@Private*" where the
// part after @ is a glob over the resource name.
type grant struct {
	permission string
	resource   glob.Glob
}

func (g grant) allows(permission, resource string) bool {
	if g.permission != "*" && !strings.EqualFold(g.permission, permission) {
		return false
	}
	return g.resource == nil || g.resource.Match(resource)
}

// RolePolicy maps roles to permission grants. It implements provider.Policy.
type RolePolicy struct {
	roles     map[string][]grant
	anonymous []grant
}

// DefaultRoles is the policy used when no roles are configured.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		RoleAdmin:         {"*"},
		RoleAuthenticated: {"read", "edit", "attachment:read", "comment"},
		RoleAll:           {"read"},
	}
}

// NewRolePolicy compiles roles. With anonymousRead off, anonymous requests
// get nothing, not even the grants of RoleAll. Invalid resource globs are
// logged and the grant is dropped.
func NewRolePolicy(roles map[string][]string, anonymousRead bool, logger *zap.Logger) *RolePolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(roles) == 0 {
		roles = DefaultRoles()
	}
	p := &RolePolicy{roles: make(map[string][]grant, len(roles))}
	for role, entries := range roles {
		for _, entry := range entries {
			g, err := parseGrant(entry)
			if err != nil {
				logger.Warn("invalid permission grant ignored",
					zap.String("role", role), zap.String("grant", entry), zap.Error(err))
				continue
			}
			p.roles[role] = append(p.roles[role], g)
		}
	}
	if anonymousRead {
		p.anonymous = p.roles[RoleAll]
	}
	return p
}

func parseGrant(entry string) (grant, error) {
	perm, pattern, found := strings.Cut(strings.TrimSpace(entry), "@")
	g := grant{permission: perm}
	if found && pattern != "" {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return grant{}, err
		}
		g.resource = compiled
	}
	return g, nil
}

// CheckPermission implements provider.Policy. It never errors.
func (p *RolePolicy) CheckPermission(_ context.Context, user *provider.User, permission, resource string) (bool, error) {
	if user == nil {
		return anyAllows(p.anonymous, permission, resource), nil
	}
	for _, own := range user.Permissions {
		if g, err := parseGrant(own); err == nil && g.allows(permission, resource) {
			return true, nil
		}
	}
	roles := append([]string{RoleAll}, user.Roles...)
	if user.Authenticated {
		roles = append(roles, RoleAuthenticated)
	}
	for _, role := range roles {
		if anyAllows(p.grantsFor(role), permission, resource) {
			return true, nil
		}
	}
	return false, nil
}

func (p *RolePolicy) grantsFor(role string) []grant {
	if gs, ok := p.roles[role]; ok {
		return gs
	}
	for name, gs := range p.roles {
		if strings.EqualFold(name, role) {
			return gs
		}
	}
	return nil
}

func anyAllows(grants []grant, permission, resource string) bool {
	for _, g := range grants {
		if g.allows(permission, resource) {
			return true
		}
	}
	return false
}
