package security

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// GlobalAdminRole grants everything everywhere.
const GlobalAdminRole = common.GlobalAdminRole

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Reason explains a Decision.
type Reason int

const (
	ReasonNoGrant Reason = iota
	ReasonGlobalAdmin
	ReasonOrganizationAdmin
	ReasonACLGrant
	ReasonExplicitDeny
	ReasonForeignOrganization
	ReasonNoActions
)

func (r Reason) String() string {
	switch r {
	case ReasonNoGrant:
		return "no matching grant"
	case ReasonGlobalAdmin:
		return "global admin"
	case ReasonOrganizationAdmin:
		return "organization admin"
	case ReasonACLGrant:
		return "acl grant"
	case ReasonExplicitDeny:
		return "explicit deny"
	case ReasonForeignOrganization:
		return "foreign organization"
	case ReasonNoActions:
		return "no actions requested"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Result carries the decision and why it was made.
type Result struct {
	Decision Decision
	Reason   Reason
	Action   models.Action
}

func (r Result) Allowed() bool {
	return r.Decision == Allow
}

func (r Result) String() string {
	if r.Action != "" {
		return r.Decision.String() + " (" + r.Reason.String() + ", " + string(r.Action) + ")"
	}
	return r.Decision.String() + " (" + r.Reason.String() + ")"
}

// IsAdmin reports whether u holds the global admin role or the admin role
// of org.
func IsAdmin(u models.User, org models.Organization) bool {
	return common.HasRole(u.Roles, GlobalAdminRole) || common.HasRole(u.Roles, org.AdminRole)
}

// Authorize checks whether u may perform any of actions under acl within
// org. Admins are always allowed; users of another organization never are.
// Otherwise an allow entry matching one of the user's roles grants the
// action unless a deny entry for the same role and action exists.
func Authorize(acl models.ACL, u models.User, org models.Organization, actions ...models.Action) Result {
	if len(actions) == 0 {
		return Result{Decision: Deny, Reason: ReasonNoActions}
	}
	if common.HasRole(u.Roles, GlobalAdminRole) {
		return Result{Decision: Allow, Reason: ReasonGlobalAdmin, Action: actions[0]}
	}
	if u.OrganizationID != "" && org.ID != "" && u.OrganizationID != org.ID {
		return Result{Decision: Deny, Reason: ReasonForeignOrganization}
	}
	if common.HasRole(u.Roles, org.AdminRole) {
		return Result{Decision: Allow, Reason: ReasonOrganizationAdmin, Action: actions[0]}
	}

	denied := false
	for _, action := range actions {
		switch decide(acl, u.Roles, action) {
		case Allow:
			return Result{Decision: Allow, Reason: ReasonACLGrant, Action: action}
		case explicitDeny:
			denied = true
		}
	}
	if denied {
		return Result{Decision: Deny, Reason: ReasonExplicitDeny}
	}
	return Result{Decision: Deny, Reason: ReasonNoGrant}
}

// explicitDeny is an internal third state of decide.
const explicitDeny Decision = -1

func decide(acl models.ACL, roles []string, action models.Action) Decision {
	granted := false
	for _, ace := range acl.Entries {
		if !strings.EqualFold(string(ace.Action), string(action)) || !common.HasRole(roles, ace.Role) {
			continue
		}
		if !ace.Allow {
			return explicitDeny
		}
		granted = true
	}
	if granted {
		return Allow
	}
	return Deny
}
