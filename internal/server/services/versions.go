package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/blobstore"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediaarchive/internal/server/workspace"
)

// VersionManager claims episode versions and stores element content once
// per checksum across the whole archive.
type VersionManager struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blobstore.Store
	opener      workspace.Opener
	logger      logging.Logger
	now         func() time.Time
}

func NewVersionManager(db *sql.DB, m repomanager.RepositoryManager, store blobstore.Store, opener workspace.Opener, logger logging.Logger) *VersionManager {
	return &VersionManager{
		db:          db,
		repomanager: m,
		store:       store,
		opener:      opener,
		logger:      logger,
		now:         time.Now,
	}
}

// ClaimVersion returns the next version of the package. Claimed versions are
// never handed out twice, even if the add that claimed them fails.
func (m *VersionManager) ClaimVersion(ctx context.Context, mediaPackageID string) (models.Version, error) {
	v, err := m.repomanager.Versions(m.db).Claim(ctx, mediaPackageID)
	if err != nil {
		return 0, fmt.Errorf("claim version of %s: %w", mediaPackageID, err)
	}
	return v, nil
}

// FindAssetByChecksum returns the path first holding content with the given
// checksum, or nil when the content was never stored.
func (m *VersionManager) FindAssetByChecksum(ctx context.Context, checksum models.Checksum) (*models.StoragePath, error) {
	a, err := m.repomanager.Assets(m.db).FindByChecksum(ctx, checksum)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find asset %s: %w", checksum, err)
	}
	return &a.StoragePath, nil
}

// RecordAsset remembers where content was stored. An existing record for
// the same checksum is kept.
func (m *VersionManager) RecordAsset(ctx context.Context, asset *models.Asset) error {
	inserted, err := m.repomanager.Assets(m.db).Record(ctx, asset)
	if err != nil {
		return fmt.Errorf("record asset %s: %w", asset.Checksum, err)
	}
	if !inserted {
		m.logger.Debug(ctx, "asset already recorded", "checksum", asset.Checksum.String())
	}
	return nil
}

// StoreElement makes the content of e available at path. Known content is
// copied from where it was first stored; unknown content is fetched from
// e.URI. stored reports whether fresh bytes were written. Versions are never
// reused, so a path that is already written is an error.
func (m *VersionManager) StoreElement(ctx context.Context, path models.StoragePath, e models.Element) (stored bool, err error) {
	if e.Checksum == nil {
		return false, fmt.Errorf("element %s: %w", e.ID, common.ErrorMissingChecksum)
	}

	from, err := m.FindAssetByChecksum(ctx, *e.Checksum)
	if err != nil {
		return false, err
	}

	if from != nil {
		if *from == path {
			return false, nil
		}
		err := m.store.Copy(ctx, *from, path)
		switch {
		case err == nil:
			m.logger.Debug(ctx, "element deduplicated", "element", e.ID, "from", from.Key(), "to", path.Key())
			return false, nil
		case errors.Is(err, blobstore.ErrNotFound):
			m.logger.Warn(ctx, "recorded asset has no content, storing again", "checksum", e.Checksum.String(), "path", from.Key())
		default:
			return false, fmt.Errorf("copy %s to %s: %w", from.Key(), path.Key(), err)
		}
	}

	if err := m.put(ctx, path, e); err != nil {
		return false, err
	}
	return true, nil
}

func (m *VersionManager) put(ctx context.Context, path models.StoragePath, e models.Element) error {
	src, err := m.opener.Open(ctx, e.URI)
	if err != nil {
		return fmt.Errorf("open element %s: %w", e.ID, err)
	}
	defer src.Body.Close()

	size := e.Size
	if size <= 0 {
		size = src.Size
	}
	mimeType := e.MimeType
	if mimeType == "" {
		mimeType = src.MimeType
	}

	if err := m.store.Put(ctx, path, src.Body, size, mimeType); err != nil {
		return fmt.Errorf("put %s: %w", path.Key(), err)
	}

	return m.RecordAsset(ctx, &models.Asset{
		Checksum:    *e.Checksum,
		StoragePath: path,
		MimeType:    mimeType,
		Size:        size,
		CreatedAt:   m.now().UTC(),
	})
}
