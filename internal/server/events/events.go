// Package events publishes archive changes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/logging"
	"github.com/dmitrijs2005/mediaarchive/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// StreamKey is the Redis stream archive events are appended to.
const StreamKey = "archive:events"

type Type string

const (
	Update Type = "update"
	Delete Type = "delete"
)

// Event describes one change. Update events carry the package with delivery
// URIs and its ACL so consumers can index it without reading the archive.
// Target names the consumer a replayed event is meant for; it is empty for
// live changes.
type Event struct {
	Type           Type
	Target         string
	OrganizationID string
	MediaPackageID string
	Version        models.Version
	Latest         bool
	MediaPackage   *models.MediaPackage
	ACL            *models.ACL
	At             time.Time
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type RedisPublisher struct {
	rdb    redis.UniversalClient
	maxLen int64
	logger logging.Logger
}

func NewRedisPublisher(rdb redis.UniversalClient, maxLen int64, logger logging.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, maxLen: maxLen, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	values := map[string]any{
		"type":             string(ev.Type),
		"organization_id":  ev.OrganizationID,
		"media_package_id": ev.MediaPackageID,
		"version":          ev.Version.String(),
		"latest":           strconv.FormatBool(ev.Latest),
		"at":               ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.Target != "" {
		values["target"] = ev.Target
	}
	if ev.MediaPackage != nil {
		b, err := json.Marshal(ev.MediaPackage)
		if err != nil {
			return fmt.Errorf("encode media package %s: %w", ev.MediaPackageID, err)
		}
		values["media_package"] = string(b)
	}
	if ev.ACL != nil {
		b, err := json.Marshal(ev.ACL)
		if err != nil {
			return fmt.Errorf("encode acl of %s: %w", ev.MediaPackageID, err)
		}
		values["acl"] = string(b)
	}

	args := &redis.XAddArgs{
		Stream: StreamKey,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish %s event for %s: %w", ev.Type, ev.MediaPackageID, err)
	}
	p.logger.Debug(ctx, "event published", "type", ev.Type, "mp", ev.MediaPackageID)
	return nil
}

// Nop drops every event. Used when no Redis is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
