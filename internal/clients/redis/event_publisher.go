package redis

import (
	"context"
	"encoding/json"

	"lnwall-gateway/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// EventPublisher appends JSON events to Redis streams under the "data" field.
type EventPublisher struct {
	redis  StreamClient
	maxLen int64
	logger *zap.Logger
}

// NewEventPublisher caps streams at roughly maxLen entries; 0 leaves them uncapped.
func NewEventPublisher(rdb StreamClient, maxLen int64, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		redis:  rdb,
		maxLen: maxLen,
		logger: logger,
	}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, stream string, event interface{}) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return errors.WrapDomainError(err, errors.CodeInternal, "event serialization failed", "failed to marshal event")
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(eventJSON),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return errors.WrapDomainError(err, errors.CodeInternal, "event publication failed", "redis error").WithRetryable(true)
	}

	p.logger.Debug("event published", zap.String("stream", stream), zap.String("id", id))
	return nil
}
