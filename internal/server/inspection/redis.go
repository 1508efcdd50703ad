package inspection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// JobsKey is the list workers pop jobs from.
	JobsKey = "inspection:jobs"
	// resultKeyPrefix + job id is the list a single result is pushed to.
	resultKeyPrefix = "inspection:result:"
	// pollInterval bounds each blocking pop so cancellation is noticed.
	pollInterval = time.Second
)

func resultKey(id string) string {
	return resultKeyPrefix + id
}

// RedisClient enqueues jobs for remote workers. Wait blocks until a result
// arrives or ctx is done.
type RedisClient struct {
	rdb    redis.UniversalClient
	logger logging.Logger
}

func NewRedisClient(rdb redis.UniversalClient, logger logging.Logger) *RedisClient {
	return &RedisClient{rdb: rdb, logger: logger}
}

func (c *RedisClient) Enrich(ctx context.Context, e models.Element, computeChecksum bool) (Job, error) {
	req := jobRequest{ID: uuid.NewString(), Element: e, ComputeChecksum: computeChecksum}
	payload, err := marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	if err := c.rdb.LPush(ctx, JobsKey, payload).Err(); err != nil {
		c.logger.Error(ctx, "redis LPUSH failed", "key", JobsKey, "error", err)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	c.logger.Debug(ctx, "inspection job enqueued", "job", req.ID, "element", e.ID)
	return &redisJob{id: req.ID, client: c}, nil
}

type redisJob struct {
	id     string
	client *RedisClient
}

func (j *redisJob) ID() string { return j.id }

func (j *redisJob) Wait(ctx context.Context) (models.Element, error) {
	key := resultKey(j.id)
	for {
		if err := ctx.Err(); err != nil {
			return models.Element{}, fmt.Errorf("wait for job %s: %w", j.id, err)
		}

		vals, err := j.client.rdb.BLPop(ctx, pollInterval, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return models.Element{}, fmt.Errorf("wait for job %s: %w", j.id, ctx.Err())
			}
			return models.Element{}, fmt.Errorf("wait for job %s: %w", j.id, err)
		}

		var res jobResult
		if err := unmarshal([]byte(vals[1]), &res); err != nil {
			return models.Element{}, fmt.Errorf("decode result of job %s: %w", j.id, err)
		}
		if res.Error != "" || res.Element == nil {
			return models.Element{}, fmt.Errorf("%w: job %s: %s", ErrInspectionFailed, j.id, res.Error)
		}
		return *res.Element, nil
	}
}
