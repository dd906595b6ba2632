package ratelimit

import (
	"context"
	"fmt"
	"time"

	"lnwall-gateway/internal/config"
	perrors "lnwall-gateway/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Service is a fixed-window limiter keyed by client IP and shared across
// replicas through Redis. Redis only holds counters; nothing the link and
// settlement flows depend on is stored there.
type Service struct {
	redis  RedisClient
	config config.RateLimitConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewService(redis RedisClient, cfg config.RateLimitConfig, logger *zap.Logger) *Service {
	return &Service{
		redis:  redis,
		config: cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Check counts one request from clientIP in the current window.
func (s *Service) Check(ctx context.Context, clientIP string) (Decision, error) {
	if !s.config.Enabled {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	key := fmt.Sprintf("%s:%s", s.config.RedisKeyPrefix, clientIP)
	window := time.Duration(s.config.WindowSeconds) * time.Second
	limit := int64(s.config.RequestsPerWindow)

	countCmd := s.redis.Incr(ctx, key)
	if err := countCmd.Err(); err != nil {
		return Decision{}, perrors.WrapDomainError(err, perrors.CodeInternal, "rate limiting unavailable", "redis error")
	}
	count := countCmd.Val()

	if count == 1 {
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			s.logger.Warn("failed to set expire on rate limit key", zap.Error(err))
		}
	}

	ttl := s.redis.TTL(ctx, key).Val()
	if ttl < 0 {
		// Key without expiry (a failed Expire above); repair it so the client is not locked out.
		ttl = window
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			s.logger.Warn("failed to repair expire on rate limit key", zap.Error(err))
		}
	}

	d := Decision{
		Allowed: count <= limit,
		Limit:   limit,
		ResetAt: s.now().Add(ttl),
	}
	if d.Allowed {
		d.Remaining = limit - count
	}
	return d, nil
}

// Error is the error returned to a client that exceeded its window.
func (s *Service) Error(clientIP string) error {
	return perrors.NewDomainError(perrors.CodeRateLimited, "rate limit exceeded", fmt.Sprintf("client %s has exceeded rate limit", clientIP))
}
