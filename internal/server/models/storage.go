package models

import (
	"fmt"
	"strings"
)

// StoragePath addresses one stored element of one episode. It is a plain
// comparable value and may be used as a map key.
type StoragePath struct {
	OrganizationID string  `json:"organization_id"`
	MediaPackageID string  `json:"media_package_id"`
	Version        Version `json:"version"`
	ElementID      string  `json:"element_id"`
}

// NewStoragePath builds a StoragePath.
func NewStoragePath(orgID, mpID string, v Version, elementID string) StoragePath {
	return StoragePath{OrganizationID: orgID, MediaPackageID: mpID, Version: v, ElementID: elementID}
}

func (p StoragePath) String() string {
	return p.Key()
}

// Key renders the blob key "org/mp/version/element".
func (p StoragePath) Key() string {
	return strings.Join([]string{p.OrganizationID, p.MediaPackageID, p.Version.String(), p.ElementID}, "/")
}

// PackagePrefix is the key prefix shared by every version of the package.
func PackagePrefix(orgID, mpID string) string {
	return orgID + "/" + mpID + "/"
}

// ValidSegment reports whether id can be used as one segment of a blob key.
func ValidSegment(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// Validate makes sure Key renders p unambiguously.
func (p StoragePath) Validate() error {
	for _, seg := range []string{p.OrganizationID, p.MediaPackageID, p.ElementID} {
		if !ValidSegment(seg) {
			return fmt.Errorf("invalid storage path segment %q", seg)
		}
	}
	if p.Version < 1 {
		return fmt.Errorf("invalid storage path version %d", p.Version)
	}
	return nil
}

// ParseStoragePath is the inverse of Key.
func ParseStoragePath(key string) (StoragePath, error) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[3] == "" {
		return StoragePath{}, fmt.Errorf("invalid storage key %q", key)
	}
	v, err := ParseVersion(parts[2])
	if err != nil {
		return StoragePath{}, err
	}
	p := NewStoragePath(parts[0], parts[1], v, parts[3])
	if err := p.Validate(); err != nil {
		return StoragePath{}, err
	}
	return p, nil
}
