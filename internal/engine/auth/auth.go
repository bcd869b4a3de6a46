package auth

import (
	"context"
	"fmt"
	"slices"

	"expertdraw/internal/config"
)

// Permission ids checked by the API.
const (
	DrawRead    = "draw.read"
	DrawWrite   = "draw.write"
	DrawExecute = "draw.execute"
	DrawReplace = "draw.replace"
	DrawContact = "draw.contact"
	DrawExport  = "draw.export"
	RosterWrite = "roster.write"
	RuleWrite   = "rule.write"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Principal is an authenticated operator.
type Principal struct {
	ActorID     string
	Roles       []string
	Permissions []string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Service resolves role grants from the configured rbac section.
type Service struct {
	Config *config.Config
}

// Effective returns the principal's explicit permissions plus those its
// roles grant.
func (s Service) Effective(p Principal) []string {
	perms := slices.Clone(p.Permissions)
	if s.Config != nil {
		for _, perm := range s.Config.RolePermissions(p.Roles) {
			if !slices.Contains(perms, perm) {
				perms = append(perms, perm)
			}
		}
	}
	slices.Sort(perms)
	return perms
}

func (s Service) HasPermission(p Principal, perm string) bool {
	return slices.Contains(s.Effective(p), perm)
}

// Require returns ForbiddenError unless p holds perm.
func (s Service) Require(p Principal, perm string) error {
	if !s.HasPermission(p, perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
