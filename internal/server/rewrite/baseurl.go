package rewrite

import (
	"net/url"
	"strings"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// BaseURLRewriter serves elements as <base>/<org>/<mp>/<version>/<element>.
type BaseURLRewriter struct {
	Base string
}

func NewBaseURLRewriter(base string) *BaseURLRewriter {
	return &BaseURLRewriter{Base: strings.TrimRight(base, "/")}
}

func (r *BaseURLRewriter) Rewrite(path models.StoragePath, _ models.Element) (string, error) {
	return r.Base + "/" + escapedKey(path), nil
}

func escapedKey(path models.StoragePath) string {
	return url.PathEscape(path.OrganizationID) + "/" +
		url.PathEscape(path.MediaPackageID) + "/" +
		path.Version.String() + "/" +
		url.PathEscape(path.ElementID)
}
