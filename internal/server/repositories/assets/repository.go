package assets

import (
	"context"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// Repository maps content checksums to the storage path that first held
// that content. It is the archive-wide dedup index.
type Repository interface {
	FindByChecksum(ctx context.Context, checksum models.Checksum) (*models.Asset, error)
	Record(ctx context.Context, asset *models.Asset) (bool, error)
	DeleteForMediaPackage(ctx context.Context, organizationID, mediaPackageID string) (int64, error)
}
