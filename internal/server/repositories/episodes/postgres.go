// Package episodes provides the PostgreSQL-backed store of archived
// episodes.
package episodes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/dbx"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// PostgresRepository implements episode storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `organization_id, version, media_package, acl, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*models.Episode, error) {
	var (
		ep        models.Episode
		version   int64
		mpJSON    []byte
		aclJSON   []byte
		deletedAt sql.NullTime
	)
	if err := row.Scan(&ep.OrganizationID, &version, &mpJSON, &aclJSON, &ep.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}
	ep.Version = models.Version(version)

	ep.MediaPackage = &models.MediaPackage{}
	if err := json.Unmarshal(mpJSON, ep.MediaPackage); err != nil {
		return nil, fmt.Errorf("decode media package: %w", err)
	}
	if err := json.Unmarshal(aclJSON, &ep.ACL); err != nil {
		return nil, fmt.Errorf("decode acl: %w", err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		ep.DeletedAt = &t
	}
	return &ep, nil
}

// Store inserts a new episode row. An episode is written once; storing the
// same (media package, version) twice fails.
func (r *PostgresRepository) Store(ctx context.Context, episode *models.Episode) error {
	if episode == nil || episode.MediaPackage == nil {
		return common.ErrorIncorrectMetadata
	}

	mpJSON, err := json.Marshal(episode.MediaPackage)
	if err != nil {
		return fmt.Errorf("encode media package: %w", err)
	}
	aclJSON, err := json.Marshal(episode.ACL)
	if err != nil {
		return fmt.Errorf("encode acl: %w", err)
	}

	query := `
		INSERT INTO episodes (organization_id, media_package_id, version, media_package, acl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	res, err := r.db.ExecContext(ctx, query,
		episode.OrganizationID, episode.MediaPackage.ID, int64(episode.Version), mpJSON, aclJSON, episode.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

// Get returns one live episode version or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, mediaPackageID string, version models.Version) (*models.Episode, error) {
	query := `SELECT ` + selectColumns + ` FROM episodes
		WHERE media_package_id = $1 AND version = $2 AND deleted_at IS NULL`

	ep, err := scanEpisode(r.db.QueryRowContext(ctx, query, mediaPackageID, int64(version)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ep, nil
}

// GetLatest returns the highest live version or common.ErrorNotFound.
func (r *PostgresRepository) GetLatest(ctx context.Context, mediaPackageID string) (*models.Episode, error) {
	query := `SELECT ` + selectColumns + ` FROM episodes
		WHERE media_package_id = $1 AND deleted_at IS NULL
		ORDER BY version DESC LIMIT 1`

	ep, err := scanEpisode(r.db.QueryRowContext(ctx, query, mediaPackageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ep, nil
}

// Delete tombstones every live version of the package and returns how many
// rows were marked.
func (r *PostgresRepository) Delete(ctx context.Context, mediaPackageID string, at time.Time) (int64, error) {
	query := `UPDATE episodes SET deleted_at = $2
		WHERE media_package_id = $1 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, mediaPackageID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return dbx.RowsAffected(res)
}

// All returns every episode, tombstoned ones included, ordered by package
// and version.
func (r *PostgresRepository) All(ctx context.Context) ([]*models.Episode, error) {
	query := `SELECT ` + selectColumns + ` FROM episodes
		ORDER BY media_package_id, version`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select episodes: %w", err)
	}
	defer rows.Close()

	var result []*models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Count returns the number of stored episode rows.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
