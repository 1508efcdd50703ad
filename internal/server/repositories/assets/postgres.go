// Package assets provides the PostgreSQL-backed checksum to storage path map.
package assets

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

// FindByChecksum returns the asset recorded for checksum or common.ErrorNotFound.
func (r *PostgresRepository) FindByChecksum(ctx context.Context, checksum models.Checksum) (*models.Asset, error) {
	query := `
		SELECT organization_id, media_package_id, version, element_id, mime_type, size, created_at
		FROM assets WHERE checksum = $1
	`

	var (
		a       models.Asset
		version int64
	)
	err := r.db.QueryRowContext(ctx, query, checksum.String()).Scan(
		&a.StoragePath.OrganizationID, &a.StoragePath.MediaPackageID, &version, &a.StoragePath.ElementID,
		&a.MimeType, &a.Size, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.StoragePath.Version = models.Version(version)
	a.Checksum = checksum

	return &a, nil
}

// Record stores the asset unless its checksum is already known. The first
// recorded path wins; the returned bool tells whether a row was inserted.
func (r *PostgresRepository) Record(ctx context.Context, asset *models.Asset) (bool, error) {
	query := `
		INSERT INTO assets (checksum, organization_id, media_package_id, version, element_id, mime_type, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (checksum) DO NOTHING
	`
	p := asset.StoragePath
	res, err := r.db.ExecContext(ctx, query,
		asset.Checksum.String(), p.OrganizationID, p.MediaPackageID, int64(p.Version), p.ElementID,
		asset.MimeType, asset.Size, asset.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return false, err
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// DeleteForMediaPackage drops every asset record pointing into the package.
func (r *PostgresRepository) DeleteForMediaPackage(ctx context.Context, organizationID, mediaPackageID string) (int64, error) {
	query := `DELETE FROM assets WHERE organization_id = $1 AND media_package_id = $2`

	res, err := r.db.ExecContext(ctx, query, organizationID, mediaPackageID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return dbx.RowsAffected(res)
}
