package inspection

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// NewHash returns a fresh hash for the checksum type.
func NewHash(t models.ChecksumType) (hash.Hash, error) {
	switch t {
	case models.ChecksumMD5:
		return md5.New(), nil
	case models.ChecksumSHA1:
		return sha1.New(), nil
	case models.ChecksumSHA256:
		return sha256.New(), nil
	case models.ChecksumBLAKE2b:
		return blake2b.New256(nil)
	case models.ChecksumBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum type %q", t)
	}
}

// Digest hashes r to EOF and returns the checksum and the byte count.
func Digest(r io.Reader, t models.ChecksumType) (models.Checksum, int64, error) {
	h, err := NewHash(t)
	if err != nil {
		return models.Checksum{}, 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return models.Checksum{}, n, fmt.Errorf("read content: %w", err)
	}
	return models.Checksum{Type: t, Value: hex.EncodeToString(h.Sum(nil))}, n, nil
}
