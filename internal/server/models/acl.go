package models

// Action is an operation an ACL can grant.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// ACE is one access control entry.
type ACE struct {
	Role   string `json:"role"`
	Action Action `json:"action"`
	Allow  bool   `json:"allow"`
}

// ACL is an ordered list of entries attached to an episode. Once archived
// the ACL of an episode never changes.
type ACL struct {
	Entries []ACE `json:"entries"`
}

// NewACL is a small constructor used mostly by tests and fixtures.
func NewACL(entries ...ACE) ACL {
	return ACL{Entries: entries}
}

// User is an already authenticated principal.
type User struct {
	Username       string   `json:"username"`
	OrganizationID string   `json:"organization_id"`
	Roles          []string `json:"roles"`
}

// Organization is a tenant of the archive.
type Organization struct {
	ID            string `json:"id"`
	AdminRole     string `json:"admin_role"`
	AnonymousRole string `json:"anonymous_role"`
}
