package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockMetricsService struct {
	mock.Mock
}

func (m *MockMetricsService) RecordRequest(endpoint, status string, duration time.Duration) {
	m.Called(endpoint, status, duration)
}

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		statusCode     int
		expectedStatus string
	}{
		{name: "successful request", statusCode: 200, expectedStatus: "success"},
		{name: "unpaid release", statusCode: 402, expectedStatus: "payment_required"},
		{name: "error request", statusCode: 400, expectedStatus: "client_error"},
		{name: "server error", statusCode: 503, expectedStatus: "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockMetrics := new(MockMetricsService)
			mockMetrics.On("RecordRequest", "/api/split", tt.expectedStatus, mock.AnythingOfType("time.Duration")).Once()

			router := gin.New()
			router.Use(MetricsMiddleware(mockMetrics))
			router.GET("/api/split", func(c *gin.Context) {
				c.Status(tt.statusCode)
			})

			req := httptest.NewRequest("GET", "/api/split?ln1=a", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.statusCode, w.Code)
			mockMetrics.AssertExpectations(t)
		})
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockMetrics := new(MockMetricsService)
	mockMetrics.On("RecordRequest", "/api/things/:id", "success", mock.AnythingOfType("time.Duration")).Once()

	router := gin.New()
	router.Use(MetricsMiddleware(mockMetrics))
	router.GET("/api/things/:id", func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/things/42", nil))

	mockMetrics.AssertExpectations(t)
}

func TestMetricsMiddlewareUnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockMetrics := new(MockMetricsService)
	mockMetrics.On("RecordRequest", "/nope", "client_error", mock.AnythingOfType("time.Duration")).Once()

	router := gin.New()
	router.Use(MetricsMiddleware(mockMetrics))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))

	assert.Equal(t, 404, w.Code)
	mockMetrics.AssertExpectations(t)
}
