// Package searchindex keeps a queryable view of archived episodes. Entries
// carry delivery URIs and the latest/deleted flags that the durable store
// does not track directly.
package searchindex

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// Index is the search index contract used by the archive.
type Index interface {
	// Add indexes one episode version. When item.Latest is set, every other
	// version of the same package loses its latest flag.
	Add(ctx context.Context, item models.ResultItem) error
	Find(ctx context.Context, q models.Query) (*models.SearchResult, error)
	// Delete marks every version of the package deleted. It reports whether
	// the package was indexed at all.
	Delete(ctx context.Context, mediaPackageID string, at time.Time) (bool, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}
