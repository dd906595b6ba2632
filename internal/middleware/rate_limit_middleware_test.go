package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lnwall-gateway/internal/services/ratelimit"
	perrors "lnwall-gateway/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRateLimitService struct {
	mock.Mock
}

func (m *MockRateLimitService) Check(ctx context.Context, clientIP string) (ratelimit.Decision, error) {
	args := m.Called(ctx, clientIP)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

func (m *MockRateLimitService) Error(clientIP string) error {
	return perrors.NewDomainError(perrors.CodeRateLimited, "rate limit exceeded", clientIP)
}

type MockRateLimitMetrics struct {
	mock.Mock
}

func (m *MockRateLimitMetrics) RecordRateLimitExceeded(endpoint string) {
	m.Called(endpoint)
}

func newRateLimitedRouter(limiter RateLimitService, metrics RateLimitMetrics) *gin.Engine {
	gin.SetMode(gin.TestMode)
	proxies, _ := NewTrustedProxyList(nil)
	router := gin.New()
	router.Use(RateLimitMiddleware(limiter, proxies, metrics, zap.NewNop()))
	router.GET("/api/ref", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	limiter := new(MockRateLimitService)
	metrics := new(MockRateLimitMetrics)
	limiter.On("Check", mock.Anything, "198.51.100.4").Return(ratelimit.Decision{
		Allowed: true, Limit: 60, Remaining: 59, ResetAt: time.Now().Add(time.Minute),
	}, nil)

	req := httptest.NewRequest("GET", "/api/ref", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	w := httptest.NewRecorder()
	newRateLimitedRouter(limiter, metrics).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, w.Header().Get("Retry-After"))
	metrics.AssertNotCalled(t, "RecordRateLimitExceeded", mock.Anything)
}

func TestRateLimitMiddleware_Exceeded(t *testing.T) {
	limiter := new(MockRateLimitService)
	metrics := new(MockRateLimitMetrics)
	limiter.On("Check", mock.Anything, "198.51.100.4").Return(ratelimit.Decision{
		Allowed: false, Limit: 60, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second),
	}, nil)
	metrics.On("RecordRateLimitExceeded", "/api/ref").Once()

	req := httptest.NewRequest("GET", "/api/ref", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	w := httptest.NewRecorder()
	newRateLimitedRouter(limiter, metrics).ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(perrors.CodeRateLimited), body["error"]["code"])
	assert.NotContains(t, w.Body.String(), "198.51.100.4")
	metrics.AssertExpectations(t)
}

func TestRateLimitMiddleware_BackendErrorAllows(t *testing.T) {
	limiter := new(MockRateLimitService)
	metrics := new(MockRateLimitMetrics)
	limiter.On("Check", mock.Anything, mock.Anything).Return(ratelimit.Decision{}, errors.New("redis down"))

	req := httptest.NewRequest("GET", "/api/ref", nil)
	w := httptest.NewRecorder()
	newRateLimitedRouter(limiter, metrics).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Remaining"))
}
