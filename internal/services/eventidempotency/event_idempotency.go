package eventidempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Keyed events carry their own deduplication key.
type Keyed interface {
	IdempotencyKey() string
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, stream string, event interface{}) error
}

// Service remembers which events were already published for ttl.
type Service struct {
	redis     RedisClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

func NewService(redis RedisClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		redis:     redis,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// CheckAndStore claims eventID. It reports true when the id was already claimed.
func (s *Service) CheckAndStore(ctx context.Context, eventID string) (bool, error) {
	stored, err := s.redis.SetNX(ctx, s.buildKey(eventID), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("event idempotency check error: %w", err)
	}
	return !stored, nil
}

// Release drops a claim so a later attempt can publish again.
func (s *Service) Release(ctx context.Context, eventID string) error {
	return s.redis.Del(ctx, s.buildKey(eventID)).Err()
}

func (s *Service) buildKey(eventID string) string {
	hash := sha256.Sum256([]byte(eventID))
	return fmt.Sprintf("%s:event:%s", s.keyPrefix, hex.EncodeToString(hash[:]))
}

// Publisher publishes each Keyed event at most once per ttl. Other events
// pass straight through. If Redis cannot be asked the event is published
// anyway: duplicates are preferred over loss.
type Publisher struct {
	next   EventPublisher
	seen   *Service
	logger *zap.Logger
}

func NewPublisher(next EventPublisher, seen *Service, logger *zap.Logger) *Publisher {
	return &Publisher{next: next, seen: seen, logger: logger}
}

func (p *Publisher) PublishEvent(ctx context.Context, stream string, event interface{}) error {
	keyed, ok := event.(Keyed)
	if !ok {
		return p.next.PublishEvent(ctx, stream, event)
	}
	eventID := stream + ":" + keyed.IdempotencyKey()

	duplicate, err := p.seen.CheckAndStore(ctx, eventID)
	if err != nil {
		p.logger.Warn("idempotency check failed, publishing anyway", zap.String("stream", stream), zap.Error(err))
		return p.next.PublishEvent(ctx, stream, event)
	}
	if duplicate {
		p.logger.Debug("duplicate event suppressed", zap.String("stream", stream))
		return nil
	}

	if err := p.next.PublishEvent(ctx, stream, event); err != nil {
		if relErr := p.seen.Release(ctx, eventID); relErr != nil {
			p.logger.Warn("failed to release idempotency claim", zap.Error(relErr))
		}
		return err
	}
	return nil
}
