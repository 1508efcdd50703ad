package common

// GlobalAdminRole is granted every action in every organization.
const GlobalAdminRole = "ROLE_ADMIN"

// ManifestElementID is the preferred element id of the stored manifest.
const ManifestElementID = "manifest"

// HasRole reports whether role is present in roles.
func HasRole(roles []string, role string) bool {
	if role == "" {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
