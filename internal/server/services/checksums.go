package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/inspection"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// ChecksumEnricher makes sure every asset element carries a checksum before
// anything is stored.
type ChecksumEnricher struct {
	inspector inspection.Service
	timeout   time.Duration
	logger    logging.Logger
}

// NewChecksumEnricher returns an enricher whose EnsureChecksums gives up
// after timeout. A zero timeout waits as long as ctx allows.
func NewChecksumEnricher(inspector inspection.Service, timeout time.Duration, logger logging.Logger) *ChecksumEnricher {
	return &ChecksumEnricher{inspector: inspector, timeout: timeout, logger: logger}
}

// EnsureChecksums returns a copy of mp in which every asset element has a
// checksum. Missing checksums are computed by inspection jobs, all of which
// are started before the first one is waited on and share one deadline.
func (c *ChecksumEnricher) EnsureChecksums(ctx context.Context, mp *models.MediaPackage) (*models.MediaPackage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := mp.Clone()

	type pending struct {
		elementID string
		job       inspection.Job
	}
	var jobs []pending

	for _, e := range out.Assets() {
		if e.Checksum != nil {
			continue
		}
		job, err := c.inspector.Enrich(ctx, e, true)
		if err != nil {
			return nil, fmt.Errorf("inspect element %s: %w", e.ID, err)
		}
		jobs = append(jobs, pending{elementID: e.ID, job: job})
	}

	for _, p := range jobs {
		enriched, err := p.job.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("inspect element %s: %w", p.elementID, err)
		}
		if enriched.Checksum == nil {
			return nil, fmt.Errorf("element %s: %w", p.elementID, common.ErrorMissingChecksum)
		}
		enriched.ID = p.elementID
		out.ReplaceElement(enriched)
		c.logger.Debug(ctx, "checksum computed", "mp", out.ID, "element", p.elementID, "checksum", enriched.Checksum.String())
	}

	return out, nil
}
