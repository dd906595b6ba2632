package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"lnwall-gateway/internal/services/ratelimit"
	"lnwall-gateway/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RateLimitService interface {
	Check(ctx context.Context, clientIP string) (ratelimit.Decision, error)
	Error(clientIP string) error
}

type RateLimitMetrics interface {
	RecordRateLimitExceeded(endpoint string)
}

// RateLimitMiddleware rejects clients that exhausted their window with 429.
// When the limiter backend is down requests are let through.
func RateLimitMiddleware(limiter RateLimitService, proxies *TrustedProxyList, metrics RateLimitMetrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := proxies.ClientIP(c.Request)

		decision, err := limiter.Check(c.Request.Context(), clientIP)
		if err != nil {
			logger.Warn("rate limit check failed, allowing request",
				zap.String("client_ip", clientIP),
				zap.Error(err),
			)
			c.Next()
			return
		}

		setRateLimitHeaders(c, decision)
		if !decision.Allowed {
			endpoint := endpointOf(c)
			metrics.RecordRateLimitExceeded(endpoint)
			respondError(c, logger, http.StatusTooManyRequests, limiter.Error(clientIP))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	if d.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	}
	if d.Remaining >= 0 {
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	}

	if !d.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			retryAfter := int(time.Until(d.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}
	}
}

func respondError(c *gin.Context, logger *zap.Logger, statusCode int, err error) {
	logger.Warn("request rejected by middleware",
		zap.Int("status_code", statusCode),
		zap.Error(err),
	)

	domainErr := errors.AsDomainError(err)
	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"code":    domainErr.Code,
			"message": domainErr.Message,
		},
	})
}

func endpointOf(c *gin.Context) string {
	if endpoint := c.FullPath(); endpoint != "" {
		return endpoint
	}
	return c.Request.URL.Path
}
