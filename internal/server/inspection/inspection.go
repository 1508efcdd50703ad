// Package inspection computes element metadata (checksum, size, mime type)
// as asynchronous jobs. Jobs run in process or on a worker behind a Redis
// queue.
package inspection

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
)

// ErrInspectionFailed marks a job that finished without a result.
var ErrInspectionFailed = errors.New("inspection failed")

// Job is a running inspection.
type Job interface {
	ID() string
	// Wait blocks until the job finishes or ctx is done and returns the
	// enriched element.
	Wait(ctx context.Context) (models.Element, error)
}

// Service starts inspection jobs.
type Service interface {
	Enrich(ctx context.Context, e models.Element, computeChecksum bool) (Job, error)
}
