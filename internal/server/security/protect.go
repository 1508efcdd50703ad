package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// UnauthorizedError is returned when a protected call is refused.
type UnauthorizedError struct {
	User    string
	Actions []models.Action
	Reason  Reason
}

func (e *UnauthorizedError) Error() string {
	acts := make([]string, len(e.Actions))
	for i, a := range e.Actions {
		acts[i] = string(a)
	}
	return fmt.Sprintf("user %q is not authorized to %s: %s", e.User, strings.Join(acts, "|"), e.Reason)
}

// Is makes errors.Is(err, common.ErrorUnauthorized) hold.
func (e *UnauthorizedError) Is(target error) bool {
	return target == common.ErrorUnauthorized
}

// Protect runs fn when u may perform any of actions under acl, otherwise it
// returns an *UnauthorizedError and fn is not called.
func Protect[T any](acl models.ACL, u models.User, org models.Organization, actions []models.Action, fn func() (T, error)) (T, error) {
	res := Authorize(acl, u, org, actions...)
	if !res.Allowed() {
		var zero T
		return zero, &UnauthorizedError{User: u.Username, Actions: actions, Reason: res.Reason}
	}
	return fn()
}

// ACLResolver yields the ACL that currently applies to a media package
// before it is archived.
type ACLResolver interface {
	ActiveACL(ctx context.Context, mp *models.MediaPackage) (models.ACL, error)
}

// StaticACLResolver returns per package ACLs from a map, falling back to
// Default.
type StaticACLResolver struct {
	ByMediaPackage map[string]models.ACL
	Default        models.ACL
}

func (r StaticACLResolver) ActiveACL(_ context.Context, mp *models.MediaPackage) (models.ACL, error) {
	if mp == nil {
		return models.ACL{}, common.ErrorIncorrectMetadata
	}
	if acl, ok := r.ByMediaPackage[mp.ID]; ok {
		return acl, nil
	}
	return r.Default, nil
}
