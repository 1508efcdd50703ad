// Package security decides whether an already authenticated user may act on
// an archived episode, given the episode's ACL.
package security

import (
	"context"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

type ctxKey int

const (
	userKey ctxKey = iota
	orgKey
)

// WithUser attaches the acting user to ctx.
func WithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// WithOrganization attaches the acting organization to ctx.
func WithOrganization(ctx context.Context, o models.Organization) context.Context {
	return context.WithValue(ctx, orgKey, o)
}

// WithIdentity attaches both user and organization.
func WithIdentity(ctx context.Context, u models.User, o models.Organization) context.Context {
	return WithOrganization(WithUser(ctx, u), o)
}

// UserFrom returns the acting user. ok is false when none was attached.
func UserFrom(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}

// OrganizationFrom returns the acting organization.
func OrganizationFrom(ctx context.Context) (models.Organization, bool) {
	o, ok := ctx.Value(orgKey).(models.Organization)
	return o, ok
}

// SystemUser is the identity background jobs run as inside an organization.
func SystemUser(name string, org models.Organization) models.User {
	roles := []string{GlobalAdminRole}
	if org.AdminRole != "" {
		roles = append(roles, org.AdminRole)
	}
	return models.User{Username: name, OrganizationID: org.ID, Roles: roles}
}
