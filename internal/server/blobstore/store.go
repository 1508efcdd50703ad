// Package blobstore keeps the content of archived elements, addressed by
// models.StoragePath. A path is written once and never overwritten.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// ErrNotFound is returned by Get when no content exists at a path.
var ErrNotFound = fmt.Errorf("blob %w", common.ErrorNotFound)

// ErrAlreadyExists is returned when a path was already written.
var ErrAlreadyExists = errors.New("blob already exists")

// ErrInvalidPath is returned for paths whose key would not address exactly
// one element of one package.
var ErrInvalidPath = fmt.Errorf("blob path %w", common.ErrorIncorrectMetadata)

func validPackage(organizationID, mediaPackageID string) error {
	if !models.ValidSegment(organizationID) || !models.ValidSegment(mediaPackageID) {
		return fmt.Errorf("%w: %q/%q", ErrInvalidPath, organizationID, mediaPackageID)
	}
	return nil
}

func validPath(path models.StoragePath) error {
	if err := path.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return nil
}

// Store is the content store contract used by the archive.
type Store interface {
	Put(ctx context.Context, path models.StoragePath, r io.Reader, size int64, mimeType string) error
	Copy(ctx context.Context, from, to models.StoragePath) error
	Get(ctx context.Context, path models.StoragePath) (io.ReadCloser, error)
	DeleteAll(ctx context.Context, organizationID, mediaPackageID string) error
}
