package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// FSStore keeps archived content on a local filesystem below root. Copies
// are hard links where the filesystem allows it.
type FSStore struct {
	root   string
	logger logging.Logger
}

func NewFSStore(root string, logger logging.Logger) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) file(path models.StoragePath) (string, error) {
	if err := validPath(path); err != nil {
		return "", err
	}
	return s.under(path.Key())
}

// under joins key to root and refuses anything that lands outside root.
func (s *FSStore) under(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the blob root", ErrInvalidPath, key)
	}
	return p, nil
}

func (s *FSStore) Put(ctx context.Context, path models.StoragePath, r io.Reader, _ int64, _ string) error {
	dst, err := s.file(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}

	// Link fails when dst exists, which keeps paths write-once.
	if err := os.Link(tmp.Name(), dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("put %s: %w", path, ErrAlreadyExists)
		}
		return fmt.Errorf("put %s: %w", path, err)
	}
	s.logger.Debug(ctx, "blob stored", "key", path.Key(), "size", n)
	return nil
}

func (s *FSStore) Copy(ctx context.Context, from, to models.StoragePath) error {
	src, err := s.file(from)
	if err != nil {
		return err
	}
	dst, err := s.file(to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("copy %s: %w", from, ErrNotFound)
		}
		return fmt.Errorf("copy %s: %w", from, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("copy %s: %w", to, err)
	}
	if err := os.Link(src, dst); err == nil {
		s.logger.Debug(ctx, "blob linked", "from", from.Key(), "to", to.Key())
		return nil
	} else if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("copy %s: %w", to, ErrAlreadyExists)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", from, err)
	}
	defer f.Close()
	return s.Put(ctx, to, f, -1, "")
}

func (s *FSStore) Get(_ context.Context, path models.StoragePath) (io.ReadCloser, error) {
	name, err := s.file(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return f, nil
}

func (s *FSStore) DeleteAll(ctx context.Context, organizationID, mediaPackageID string) error {
	if err := validPackage(organizationID, mediaPackageID); err != nil {
		return err
	}
	dir, err := s.under(models.PackagePrefix(organizationID, mediaPackageID))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", dir, err)
	}
	s.logger.Debug(ctx, "blobs deleted", "dir", dir)
	return nil
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
