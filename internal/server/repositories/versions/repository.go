package versions

import (
	"context"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// Repository owns the per media package version counters.
type Repository interface {
	Claim(ctx context.Context, mediaPackageID string) (models.Version, error)
	Current(ctx context.Context, mediaPackageID string) (models.Version, error)
}
