// Package workflows starts processing workflows on archived media packages.
//
// The archive only dispatches. Execution belongs to whatever consumes the
// dispatch stream.
package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamKey is the Redis stream dispatch records are appended to.
const StreamKey = "workflows:dispatch"

type Engine interface {
	Start(ctx context.Context, def models.WorkflowDefinition, mp *models.MediaPackage, params map[string]string) (*models.WorkflowInstance, error)
}

// RedisEngine appends one stream record per started instance.
type RedisEngine struct {
	rdb    redis.UniversalClient
	maxLen int64
	logger logging.Logger
	now    func() time.Time
}

// NewRedisEngine returns an engine writing to StreamKey. maxLen caps the
// stream approximately; zero leaves it uncapped.
func NewRedisEngine(rdb redis.UniversalClient, maxLen int64, logger logging.Logger) *RedisEngine {
	return &RedisEngine{rdb: rdb, maxLen: maxLen, logger: logger, now: time.Now}
}

func (e *RedisEngine) Start(ctx context.Context, def models.WorkflowDefinition, mp *models.MediaPackage, params map[string]string) (*models.WorkflowInstance, error) {
	if mp == nil {
		return nil, fmt.Errorf("start %s: nil media package", def.ID)
	}

	inst := &models.WorkflowInstance{
		ID:             uuid.NewString(),
		DefinitionID:   def.ID,
		MediaPackageID: mp.ID,
		State:          models.WorkflowInstantiated,
		CreatedAt:      e.now().UTC(),
	}

	mpJSON, err := json.Marshal(mp)
	if err != nil {
		return nil, fmt.Errorf("encode media package: %w", err)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]any{
			"instance_id":      inst.ID,
			"definition_id":    inst.DefinitionID,
			"media_package_id": inst.MediaPackageID,
			"state":            string(inst.State),
			"created_at":       inst.CreatedAt.Format(time.RFC3339Nano),
			"media_package":    string(mpJSON),
			"parameters":       string(paramsJSON),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if err := e.rdb.XAdd(ctx, args).Err(); err != nil {
		e.logger.Error(ctx, "redis XADD failed", "stream", StreamKey, "error", err)
		return nil, fmt.Errorf("dispatch %s: %w", def.ID, err)
	}

	e.logger.Info(ctx, "workflow started", "workflow", def.ID, "instance", inst.ID, "mp", mp.ID)
	return inst, nil
}

// ErrUnavailable is returned by Disabled.
var ErrUnavailable = errors.New("workflow engine unavailable")

// Disabled refuses every start. It stands in when no dispatch stream is
// configured.
type Disabled struct{}

func (Disabled) Start(context.Context, models.WorkflowDefinition, *models.MediaPackage, map[string]string) (*models.WorkflowInstance, error) {
	return nil, ErrUnavailable
}
