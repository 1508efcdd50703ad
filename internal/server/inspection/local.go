package inspection

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/google/uuid"
)

// Local runs every job on its own goroutine in this process.
type Local struct {
	inspector *Inspector
}

func NewLocal(inspector *Inspector) *Local {
	return &Local{inspector: inspector}
}

type localJob struct {
	id     string
	done   chan struct{}
	result models.Element
	err    error
}

func (j *localJob) ID() string { return j.id }

func (j *localJob) Wait(ctx context.Context) (models.Element, error) {
	select {
	case <-j.done:
		if j.err != nil {
			return models.Element{}, fmt.Errorf("%w: job %s: %v", ErrInspectionFailed, j.id, j.err)
		}
		return j.result, nil
	case <-ctx.Done():
		return models.Element{}, ctx.Err()
	}
}

func (l *Local) Enrich(ctx context.Context, e models.Element, computeChecksum bool) (Job, error) {
	j := &localJob{id: uuid.NewString(), done: make(chan struct{})}
	go func() {
		defer close(j.done)
		j.result, j.err = l.inspector.Inspect(ctx, e, computeChecksum)
	}()
	return j, nil
}
