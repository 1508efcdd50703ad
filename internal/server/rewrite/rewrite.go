// Package rewrite converts element URIs between their archival form
// (location independent URNs kept in the durable store) and delivery form
// (URLs handed to consumers).
package rewrite

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

const urnPrefix = "urn:mediaarchive:"

// URIRewriter maps a stored element to the URI a consumer should use.
type URIRewriter interface {
	Rewrite(path models.StoragePath, e models.Element) (string, error)
}

// TokenVerifier resolves a delivery token to the storage path it grants.
type TokenVerifier interface {
	Verify(token string) (models.StoragePath, error)
}

// RewriterFunc adapts a plain function to URIRewriter.
type RewriterFunc func(path models.StoragePath, e models.Element) (string, error)

func (f RewriterFunc) Rewrite(path models.StoragePath, e models.Element) (string, error) {
	return f(path, e)
}

// ArchivalURI builds "urn:mediaarchive:<mp>:<version>:<element>".
func ArchivalURI(mediaPackageID string, v models.Version, elementID string) string {
	return urnPrefix + mediaPackageID + ":" + v.String() + ":" + elementID
}

// ParseArchivalURI splits an archival URI into its parts.
func ParseArchivalURI(uri string) (mediaPackageID string, v models.Version, elementID string, err error) {
	rest, ok := strings.CutPrefix(uri, urnPrefix)
	if !ok {
		return "", 0, "", fmt.Errorf("%w: %q", common.ErrorInvalidURI, uri)
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", 0, "", fmt.Errorf("%w: %q", common.ErrorInvalidURI, uri)
	}
	v, err = models.ParseVersion(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: %q", common.ErrorInvalidURI, uri)
	}
	return parts[0], v, parts[2], nil
}

// ForArchival returns a copy of mp whose asset elements point at their
// archival URIs for version v. Publications are left untouched.
func ForArchival(mp *models.MediaPackage, v models.Version) *models.MediaPackage {
	out := mp.Clone()
	for i, e := range out.Elements {
		if !e.IsAsset() {
			continue
		}
		out.Elements[i].URI = ArchivalURI(out.ID, v, e.ID)
	}
	return out
}

// ForDelivery returns a copy of mp whose asset elements carry the URI rw
// produces for the element's storage path in (org, version v).
func ForDelivery(mp *models.MediaPackage, organizationID string, v models.Version, rw URIRewriter) (*models.MediaPackage, error) {
	out := mp.Clone()
	for i, e := range out.Elements {
		if !e.IsAsset() {
			continue
		}
		uri, err := rw.Rewrite(models.NewStoragePath(organizationID, out.ID, v, e.ID), e)
		if err != nil {
			return nil, fmt.Errorf("rewrite element %s: %w", e.ID, err)
		}
		out.Elements[i].URI = uri
	}
	return out, nil
}
