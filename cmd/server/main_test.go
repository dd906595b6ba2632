package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"lnwall-gateway/internal/config"
	"lnwall-gateway/internal/services/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "debug", Encoding: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger(config.LoggingConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = newLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewRouter_ServesMetricsAndRequestIDs(t *testing.T) {
	cfg := &config.Config{}
	router, err := newRouter(cfg, nil, metrics.NewService(prometheus.NewRegistry()), zap.NewNop())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNewRouter_InvalidTrustedProxy(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{TrustedProxies: []string{"not-a-cidr"}}}
	_, err := newRouter(cfg, nil, metrics.NewService(prometheus.NewRegistry()), zap.NewNop())
	assert.Error(t, err)
}
