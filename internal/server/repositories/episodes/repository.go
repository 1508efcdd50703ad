package episodes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// Repository persists archived episodes. Stored packages carry archival URIs.
type Repository interface {
	Store(ctx context.Context, episode *models.Episode) error
	Get(ctx context.Context, mediaPackageID string, version models.Version) (*models.Episode, error)
	GetLatest(ctx context.Context, mediaPackageID string) (*models.Episode, error)
	Delete(ctx context.Context, mediaPackageID string, at time.Time) (int64, error)
	All(ctx context.Context) ([]*models.Episode, error)
	Count(ctx context.Context) (int64, error)
}
