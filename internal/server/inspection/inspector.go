package inspection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/dmitrijs2005/mediaarchive/internal/server/workspace"
)

const sniffLen = 512

// Inspector reads an element's content and fills in what is missing.
type Inspector struct {
	opener       workspace.Opener
	checksumType models.ChecksumType
	logger       logging.Logger
}

func NewInspector(opener workspace.Opener, checksumType models.ChecksumType, logger logging.Logger) *Inspector {
	if !checksumType.Valid() {
		checksumType = models.DefaultChecksumType
	}
	return &Inspector{opener: opener, checksumType: checksumType, logger: logger}
}

// Inspect returns a copy of e with size and mime type filled in and, when
// computeChecksum is set, a fresh checksum.
func (i *Inspector) Inspect(ctx context.Context, e models.Element, computeChecksum bool) (models.Element, error) {
	out := e.Clone()

	src, err := i.opener.Open(ctx, e.URI)
	if err != nil {
		return out, fmt.Errorf("inspect %s: %w", e.ID, err)
	}
	defer src.Body.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return out, fmt.Errorf("inspect %s: %w", e.ID, err)
	}
	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), src.Body)

	if computeChecksum {
		sum, size, err := Digest(body, i.checksumType)
		if err != nil {
			return out, fmt.Errorf("inspect %s: %w", e.ID, err)
		}
		out.Checksum = &sum
		out.Size = size
	} else if src.Size >= 0 {
		out.Size = src.Size
	}

	if out.MimeType == "" {
		out.MimeType = src.MimeType
	}
	if out.MimeType == "" && len(head) > 0 {
		out.MimeType = http.DetectContentType(head)
	}

	i.logger.Debug(ctx, "element inspected", "element", e.ID, "size", out.Size, "mime", out.MimeType)
	return out, nil
}
