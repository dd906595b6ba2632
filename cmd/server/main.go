package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lnwall-gateway/internal/clients/alby"
	redisclient "lnwall-gateway/internal/clients/redis"
	"lnwall-gateway/internal/config"
	"lnwall-gateway/internal/handlers/api"
	"lnwall-gateway/internal/middleware"
	"lnwall-gateway/internal/services/cipher"
	"lnwall-gateway/internal/services/circuitbreaker"
	"lnwall-gateway/internal/services/encryption"
	"lnwall-gateway/internal/services/eventidempotency"
	"lnwall-gateway/internal/services/keyderiv"
	"lnwall-gateway/internal/services/metrics"
	"lnwall-gateway/internal/services/paywall"
	"lnwall-gateway/internal/services/ratelimit"
	"lnwall-gateway/internal/services/referral"
	"lnwall-gateway/internal/services/settlement"
	"lnwall-gateway/internal/services/signing"
	"lnwall-gateway/internal/services/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	shutdownTimeout = 15 * time.Second
	eventStreamMax  = 10000
	eventDedupeTTL  = 24 * time.Hour
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}
	tracer := tracing.NewService(cfg.Tracing.ServiceName)
	metricsService := metrics.NewService(prometheus.DefaultRegisterer)

	var rdb *redisclient.Client
	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client
	}

	signer := signing.NewSigner([]byte(cfg.Signing.SecretKey))

	versionSecrets := make(map[keyderiv.KeyVersion]string, len(cfg.Encryption.VersionSecrets))
	for v, secret := range cfg.Encryption.VersionSecrets {
		versionSecrets[keyderiv.KeyVersion(v)] = secret
	}
	deriver, err := keyderiv.NewDeriver(keyderiv.Config{
		MasterSecret:   cfg.Encryption.MasterSecret,
		CurrentVersion: keyderiv.KeyVersion(cfg.Encryption.CurrentKeyVersion),
		VersionSecrets: versionSecrets,
		CacheSize:      cfg.Encryption.KeyCacheSize,
		CacheTTL:       cfg.Encryption.KeyCacheTTL,
	}, metricsService, logger)
	if err != nil {
		return fmt.Errorf("key deriver: %w", err)
	}
	encryptionService := encryption.NewService(deriver, cipher.New(), "/api/encrypt", metricsService, logger)

	oracle, err := alby.NewClient(alby.Config{
		BaseURL:             cfg.Alby.APIBaseURL,
		Timeout:             cfg.Alby.HTTPTimeout,
		AllowedVerifyHosts:  cfg.Alby.AllowedVerifyHosts,
		RequestsPerSecond:   cfg.Alby.RequestsPerSecond,
		Burst:               cfg.Alby.Burst,
		BreakerFailures:     cfg.Alby.BreakerFailures,
		BreakerResetTimeout: cfg.Alby.BreakerResetTimeout,
		OnBreakerChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("dependency", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			metricsService.SetCircuitBreakerState(name, int(to))
		},
	}, logger, alby.WithMetrics(metricsService), alby.WithTracer(tracer))
	if err != nil {
		return fmt.Errorf("alby client: %w", err)
	}

	coordinatorOpts := []settlement.Option{
		settlement.WithMetrics(metricsService),
		settlement.WithTracer(tracer),
	}
	if cfg.Settlement.EventStream != "" && rdb != nil {
		publisher := eventidempotency.NewPublisher(
			redisclient.NewEventPublisher(rdb, eventStreamMax, logger),
			eventidempotency.NewService(rdb, cfg.Redis.KeyPrefix, eventDedupeTTL, logger),
			logger,
		)
		coordinatorOpts = append(coordinatorOpts, settlement.WithEventPublisher(publisher, cfg.Settlement.EventStream))
	}
	coordinator := settlement.NewCoordinator(oracle, signer, settlement.Config{
		PollInterval: cfg.Settlement.PollInterval,
		MaxWait:      cfg.Settlement.MaxWait,
	}, logger, coordinatorOpts...)

	referralService := referral.NewService(signer, cfg.Links.PublicBaseURL, cfg.Links.MaxURLLength, metricsService, logger)
	paywallService := paywall.NewService(signer, encryptionService, oracle, cfg.Links.PublicBaseURL, logger)

	router, err := newRouter(cfg, rdb, metricsService, logger)
	if err != nil {
		return err
	}
	checks := map[string]api.HealthChecker{}
	if rdb != nil {
		checks["redis"] = rdb
	}
	api.Register(router, api.Handlers{
		Referral: api.NewReferralHandler(referralService, metricsService, logger),
		Split:    api.NewSplitHandler(referralService, coordinator, cfg.Links.PublicBaseURL, cfg.Settlement.RequireSplitSignature, metricsService, logger),
		Encrypt:  api.NewEncryptHandler(encryptionService, metricsService, logger),
		Paywall:  api.NewPaywallHandler(paywallService, metricsService, logger),
		Health:   api.NewHealthHandler(checks, logger),
	})

	// Await requests may hold the connection for the full settlement window.
	writeTimeout := cfg.Server.WriteTimeout
	if minimum := cfg.Settlement.MaxWait + 10*time.Second; writeTimeout < minimum {
		writeTimeout = minimum
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lnwall gateway starting",
			zap.String("addr", srv.Addr),
			zap.Int("key_version", cfg.Encryption.CurrentKeyVersion),
			zap.Bool("redis", rdb != nil),
			zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, rdb *redisclient.Client, metricsService *metrics.Service, logger *zap.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	proxies, err := middleware.NewTrustedProxyList(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	router.Use(middleware.RequestContext(logger))
	router.Use(middleware.MetricsMiddleware(metricsService))
	if cfg.RateLimit.Enabled && rdb != nil {
		limiter := ratelimit.NewService(rdb, cfg.RateLimit, logger)
		router.Use(middleware.RateLimitMiddleware(limiter, proxies, metricsService, logger))
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
