package inspection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Worker consumes jobs from Redis and answers each with a result list that
// expires after resultTTL.
type Worker struct {
	rdb       redis.UniversalClient
	inspector *Inspector
	resultTTL time.Duration
	logger    logging.Logger
}

func NewWorker(rdb redis.UniversalClient, inspector *Inspector, resultTTL time.Duration, logger logging.Logger) *Worker {
	return &Worker{rdb: rdb, inspector: inspector, resultTTL: resultTTL, logger: logger}
}

// Run processes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "inspection worker started", "queue", JobsKey)
	for {
		if ctx.Err() != nil {
			w.logger.Info(ctx, "inspection worker stopped")
			return nil
		}

		vals, err := w.rdb.BRPop(ctx, pollInterval, JobsKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error(ctx, "redis BRPOP failed", "key", JobsKey, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := w.handle(ctx, []byte(vals[1])); err != nil {
			w.logger.Error(ctx, "inspection job not answered", "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, payload []byte) error {
	var req jobRequest
	if err := unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}

	res := jobResult{ID: req.ID}
	enriched, err := w.inspector.Inspect(ctx, req.Element, req.ComputeChecksum)
	if err != nil {
		w.logger.Warn(ctx, "inspection failed", "job", req.ID, "element", req.Element.ID, "error", err)
		res.Error = err.Error()
	} else {
		res.Element = &enriched
	}

	out, err := marshal(res)
	if err != nil {
		return fmt.Errorf("encode result of job %s: %w", req.ID, err)
	}

	key := resultKey(req.ID)
	pipe := w.rdb.TxPipeline()
	pipe.RPush(ctx, key, out)
	pipe.Expire(ctx, key, w.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish result of job %s: %w", req.ID, err)
	}
	w.logger.Debug(ctx, "inspection job answered", "job", req.ID, "failed", res.Error != "")
	return nil
}
