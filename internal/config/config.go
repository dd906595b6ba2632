package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Signing    SigningConfig
	Encryption EncryptionConfig
	Links      LinksConfig
	Alby       AlbyConfig
	Settlement SettlementConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TrustedProxies []string
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SigningConfig holds the HMAC secret used for every signed link.
type SigningConfig struct {
	SecretKey string
}

// EncryptionConfig holds the master secret and key versioning for event key derivation.
// VersionSecrets overrides the master secret for specific versions (rotation).
type EncryptionConfig struct {
	MasterSecret      string
	CurrentKeyVersion int
	VersionSecrets    map[int]string
	KeyCacheSize      int
	KeyCacheTTL       time.Duration
}

// LinksConfig holds the public base URL and the URL length ceiling for generated links.
type LinksConfig struct {
	PublicBaseURL string
	MaxURLLength  int
}

type AlbyConfig struct {
	APIBaseURL          string
	HTTPTimeout         time.Duration
	AllowedVerifyHosts  []string
	RequestsPerSecond   float64
	Burst               int
	BreakerFailures     int
	BreakerResetTimeout time.Duration
}

type SettlementConfig struct {
	PollInterval          time.Duration
	MaxWait               time.Duration
	EventStream           string
	RequireSplitSignature bool
}

type LoggingConfig struct {
	Level    string
	Encoding string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

type RateLimitConfig struct {
	Enabled           bool
	RedisKeyPrefix    string
	RequestsPerWindow int
	WindowSeconds     int
}

func LoadConfig() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "10s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "120s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_ENCODING", "json")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_KEY_PREFIX", "lnwall")
	v.SetDefault("ENCRYPTION_KEY_VERSION", 1)
	v.SetDefault("ENCRYPTION_KEY_CACHE_SIZE", 256)
	v.SetDefault("ENCRYPTION_KEY_CACHE_TTL", "10m")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("MAX_URL_LENGTH", 2048)
	v.SetDefault("ALBY_API_BASE_URL", "https://api.getalby.com/lnurl")
	v.SetDefault("ALBY_HTTP_TIMEOUT", "10s")
	v.SetDefault("ALBY_REQUESTS_PER_SECOND", 10)
	v.SetDefault("ALBY_BURST", 20)
	v.SetDefault("ALBY_BREAKER_FAILURES", 5)
	v.SetDefault("ALBY_BREAKER_RESET_TIMEOUT", "30s")
	v.SetDefault("SETTLEMENT_POLL_INTERVAL", "5s")
	v.SetDefault("SETTLEMENT_MAX_WAIT", "90s")
	v.SetDefault("TRACING_SERVICE_NAME", "lnwall-gateway")
	v.SetDefault("RATE_LIMIT_REDIS_KEY_PREFIX", "lnwall:ratelimit")
	v.SetDefault("RATE_LIMIT_REQUESTS_PER_WINDOW", 60)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	readTimeout, err := parseDurationWithDefault(v.GetString("SERVER_READ_TIMEOUT"), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := parseDurationWithDefault(v.GetString("SERVER_WRITE_TIMEOUT"), 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}
	keyCacheTTL, err := parseDurationWithDefault(v.GetString("ENCRYPTION_KEY_CACHE_TTL"), 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY_CACHE_TTL: %w", err)
	}
	versionSecrets, err := parseVersionSecrets(v.GetString("ENCRYPTION_VERSION_SECRETS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_VERSION_SECRETS: %w", err)
	}
	albyTimeout, err := parseDurationWithDefault(v.GetString("ALBY_HTTP_TIMEOUT"), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid ALBY_HTTP_TIMEOUT: %w", err)
	}
	breakerReset, err := parseDurationWithDefault(v.GetString("ALBY_BREAKER_RESET_TIMEOUT"), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid ALBY_BREAKER_RESET_TIMEOUT: %w", err)
	}
	pollInterval, err := parseDurationWithDefault(v.GetString("SETTLEMENT_POLL_INTERVAL"), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_POLL_INTERVAL: %w", err)
	}
	maxWait, err := parseDurationWithDefault(v.GetString("SETTLEMENT_MAX_WAIT"), 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SETTLEMENT_MAX_WAIT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("SERVER_PORT"),
			Host:           v.GetString("SERVER_HOST"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			TrustedProxies: splitList(v.GetString("TRUSTED_PROXY_CIDRS")),
		},
		Redis: RedisConfig{
			Host:      v.GetString("REDIS_HOST"),
			Port:      v.GetInt("REDIS_PORT"),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		},
		Signing: SigningConfig{
			SecretKey: v.GetString("SIGNING_SECRET_KEY"),
		},
		Encryption: EncryptionConfig{
			MasterSecret:      v.GetString("ENCRYPTION_MASTER_SECRET"),
			CurrentKeyVersion: v.GetInt("ENCRYPTION_KEY_VERSION"),
			VersionSecrets:    versionSecrets,
			KeyCacheSize:      v.GetInt("ENCRYPTION_KEY_CACHE_SIZE"),
			KeyCacheTTL:       keyCacheTTL,
		},
		Links: LinksConfig{
			PublicBaseURL: strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
			MaxURLLength:  v.GetInt("MAX_URL_LENGTH"),
		},
		Alby: AlbyConfig{
			APIBaseURL:          strings.TrimRight(v.GetString("ALBY_API_BASE_URL"), "/"),
			HTTPTimeout:         albyTimeout,
			AllowedVerifyHosts:  splitList(v.GetString("ALBY_ALLOWED_VERIFY_HOSTS")),
			RequestsPerSecond:   v.GetFloat64("ALBY_REQUESTS_PER_SECOND"),
			Burst:               v.GetInt("ALBY_BURST"),
			BreakerFailures:     v.GetInt("ALBY_BREAKER_FAILURES"),
			BreakerResetTimeout: breakerReset,
		},
		Settlement: SettlementConfig{
			PollInterval:          pollInterval,
			MaxWait:               maxWait,
			EventStream:           v.GetString("SETTLEMENT_EVENT_STREAM"),
			RequireSplitSignature: v.GetBool("SETTLEMENT_REQUIRE_SPLIT_SIGNATURE"),
		},
		Logging: LoggingConfig{
			Level:    v.GetString("LOG_LEVEL"),
			Encoding: v.GetString("LOG_ENCODING"),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("TRACING_ENABLED"),
			ServiceName: v.GetString("TRACING_SERVICE_NAME"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           v.GetBool("RATE_LIMIT_ENABLED"),
			RedisKeyPrefix:    v.GetString("RATE_LIMIT_REDIS_KEY_PREFIX"),
			RequestsPerWindow: v.GetInt("RATE_LIMIT_REQUESTS_PER_WINDOW"),
			WindowSeconds:     v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validateSigning(); err != nil {
		return fmt.Errorf("signing config: %w", err)
	}
	if err := c.validateEncryption(); err != nil {
		return fmt.Errorf("encryption config: %w", err)
	}
	if err := c.validateLinks(); err != nil {
		return fmt.Errorf("links config: %w", err)
	}
	if err := c.validateAlby(); err != nil {
		return fmt.Errorf("alby config: %w", err)
	}
	if err := c.validateSettlement(); err != nil {
		return fmt.Errorf("settlement config: %w", err)
	}
	if err := c.validateRateLimit(); err != nil {
		return fmt.Errorf("rate limit config: %w", err)
	}
	return nil
}

func (c *Config) validateSigning() error {
	if c.Signing.SecretKey == "" {
		return fmt.Errorf("secret key is required")
	}
	return nil
}

func (c *Config) validateEncryption() error {
	if c.Encryption.MasterSecret == "" {
		return fmt.Errorf("master secret is required")
	}
	if c.Encryption.CurrentKeyVersion <= 0 {
		return fmt.Errorf("key version must be greater than 0")
	}
	for version := range c.Encryption.VersionSecrets {
		if version > c.Encryption.CurrentKeyVersion {
			return fmt.Errorf("secret configured for version %d above current version %d", version, c.Encryption.CurrentKeyVersion)
		}
	}
	if c.Encryption.KeyCacheSize < 0 {
		return fmt.Errorf("key cache size must not be negative")
	}
	return nil
}

func (c *Config) validateLinks() error {
	if _, err := url.ParseRequestURI(c.Links.PublicBaseURL); err != nil {
		return fmt.Errorf("public base url is invalid: %w", err)
	}
	if c.Links.MaxURLLength <= 0 {
		return fmt.Errorf("max url length must be greater than 0")
	}
	return nil
}

func (c *Config) validateAlby() error {
	if _, err := url.ParseRequestURI(c.Alby.APIBaseURL); err != nil {
		return fmt.Errorf("api base url is invalid: %w", err)
	}
	if c.Alby.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be greater than 0")
	}
	if c.Alby.RequestsPerSecond <= 0 || c.Alby.Burst <= 0 {
		return fmt.Errorf("requests per second and burst must be greater than 0")
	}
	if c.Alby.BreakerFailures <= 0 {
		return fmt.Errorf("breaker failures must be greater than 0")
	}
	return nil
}

func (c *Config) validateSettlement() error {
	if c.Settlement.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be greater than 0")
	}
	if c.Settlement.MaxWait < c.Settlement.PollInterval {
		return fmt.Errorf("max wait (%s) must be >= poll interval (%s)", c.Settlement.MaxWait, c.Settlement.PollInterval)
	}
	if c.Settlement.EventStream != "" && !c.Redis.Enabled() {
		return fmt.Errorf("redis host is required when a settlement event stream is configured")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if !c.Redis.Enabled() {
		return fmt.Errorf("redis host is required when rate limiting is enabled")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests per window must be greater than 0 when enabled")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("window seconds must be greater than 0 when enabled")
	}
	return nil
}

// parseVersionSecrets parses "1:secret-a,2:secret-b".
func parseVersionSecrets(s string) (map[int]string, error) {
	secrets := make(map[int]string)
	for _, part := range splitList(s) {
		idx := strings.Index(part, ":")
		if idx <= 0 || idx == len(part)-1 {
			return nil, fmt.Errorf("entry %q must be <version>:<secret>", part)
		}
		version, err := strconv.Atoi(part[:idx])
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("entry %q has an invalid version", part)
		}
		secrets[version] = part[idx+1:]
	}
	return secrets, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	return time.ParseDuration(s)
}

func parseDurationWithDefault(s string, defaultVal time.Duration) (time.Duration, error) {
	if s == "" {
		return defaultVal, nil
	}
	return parseDuration(s)
}
