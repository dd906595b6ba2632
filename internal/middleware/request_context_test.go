package middleware

import (
	"net/http/httptest"
	"testing"

	"lnwall-gateway/internal/services/tracing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const callerTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestRequestContext_GeneratesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var seenID, seenTrace string

	router := gin.New()
	router.Use(RequestContext(zap.NewNop()))
	router.GET("/healthz", func(c *gin.Context) {
		seenID = RequestID(c)
		seenTrace = tracing.TraceID(c.Request.Context())
		c.Status(200)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.Len(t, seenID, 36)
	assert.Equal(t, seenID, w.Header().Get(RequestIDHeader))
	tp := w.Header().Get(TraceparentHeader)
	assert.Len(t, tp, 55)
	assert.Equal(t, ExtractTraceID(tp), seenTrace)
}

func TestRequestContext_PropagatesCallerValues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var seenTrace string

	router := gin.New()
	router.Use(RequestContext(zap.NewNop()))
	router.GET("/healthz", func(c *gin.Context) {
		seenTrace = tracing.TraceID(c.Request.Context())
		c.Status(200)
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req.Header.Set(TraceparentHeader, callerTraceparent)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	assert.Equal(t, callerTraceparent, w.Header().Get(TraceparentHeader))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", seenTrace)
}

func TestExtractTraceID(t *testing.T) {
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ExtractTraceID(callerTraceparent))
	assert.Empty(t, ExtractTraceID(""))
	assert.Empty(t, ExtractTraceID("01-abc-def-01"))
	assert.Empty(t, ExtractTraceID("00-short-00f067aa0ba902b7-01"))
}

func TestEnsureTraceparent(t *testing.T) {
	assert.Equal(t, callerTraceparent, EnsureTraceparent(callerTraceparent))

	generated := EnsureTraceparent("garbage")
	assert.Len(t, generated, 55)
	assert.NotEmpty(t, ExtractTraceID(generated))
}
