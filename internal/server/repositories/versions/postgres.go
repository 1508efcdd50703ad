// Package versions provides the PostgreSQL-backed version counter of
// archived media packages.
package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/dbx"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Claim atomically reserves the next version of the package. The first
// claim yields models.FirstVersion. Concurrent claims, also from other
// processes, never receive the same value.
func (r *PostgresRepository) Claim(ctx context.Context, mediaPackageID string) (models.Version, error) {
	query :=
		`INSERT INTO media_package_versions (media_package_id, current_version)
		 VALUES ($1, $2)
		 ON CONFLICT (media_package_id)
		 DO UPDATE SET current_version = media_package_versions.current_version + 1, updated_at = now()
		 RETURNING current_version
		 `

	var v int64
	err := r.db.QueryRowContext(ctx, query, mediaPackageID, int64(models.FirstVersion)).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return models.Version(v), nil
}

// Current returns the last claimed version, or common.ErrorNotFound if the
// package was never claimed.
func (r *PostgresRepository) Current(ctx context.Context, mediaPackageID string) (models.Version, error) {
	query :=
		`SELECT current_version FROM media_package_versions
		 WHERE media_package_id = $1
		 `

	var v int64
	err := r.db.QueryRowContext(ctx, query, mediaPackageID).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return models.Version(v), nil
}
