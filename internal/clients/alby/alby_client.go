// Package alby talks to the Alby LNURL API, which generates invoices for a
// lightning address and reports whether they were paid.
package alby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lnwall-gateway/internal/services/circuitbreaker"
	"lnwall-gateway/internal/services/tracing"
	perrors "lnwall-gateway/pkg/errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	opGenerateInvoice = "generate_invoice"
	opCheckSettlement = "check_settlement"

	maxResponseBytes = 1 << 20
)

// Invoice is what the oracle returns for a generated invoice.
type Invoice struct {
	PaymentRequest string `json:"pr"`
	Verify         string `json:"verify"`
}

type generateResponse struct {
	Invoice *Invoice `json:"invoice"`
}

type verifyResponse struct {
	Settled bool `json:"settled"`
}

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// MetricsRecorder records oracle calls.
type MetricsRecorder interface {
	RecordOracleCall(operation, outcome string, duration time.Duration)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// AllowedVerifyHosts limits which hosts CheckSettlement will call. Subdomains
	// of an entry are allowed. Empty means the base URL host and its parent domain.
	AllowedVerifyHosts  []string
	RequestsPerSecond   float64
	Burst               int
	BreakerFailures     int
	BreakerResetTimeout time.Duration
	OnBreakerChange     func(name string, from, to circuitbreaker.State)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) { c.metrics = m }
}

func WithTracer(t Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	allowed []string
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	tracer  Tracer
	metrics MetricsRecorder
	logger  *zap.Logger
}

// statusError is a non-2xx oracle response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("oracle responded %d: %s", e.code, e.body)
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid alby base url %q", cfg.BaseURL)
	}

	allowed := normalizeHosts(cfg.AllowedVerifyHosts)
	if len(allowed) == 0 {
		allowed = defaultHosts(base.Hostname())
	}

	breakerCfg := circuitbreaker.DefaultConfig("alby")
	if cfg.BreakerFailures > 0 {
		breakerCfg.FailureThreshold = cfg.BreakerFailures
	}
	if cfg.BreakerResetTimeout > 0 {
		breakerCfg.ResetTimeout = cfg.BreakerResetTimeout
	}
	breakerCfg.IsFailure = isOracleFault
	breakerCfg.OnStateChange = cfg.OnBreakerChange

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: base,
		allowed: allowed,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.NewCircuitBreaker(breakerCfg),
		tracer:  tracing.NewService("lnwall-gateway/alby"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateInvoice asks the oracle for an invoice of amountMsat payable to address.
func (c *Client) GenerateInvoice(ctx context.Context, address string, amountMsat int64) (*Invoice, error) {
	if address == "" {
		return nil, perrors.NewValidationError("lightning address is required")
	}
	if amountMsat < 0 {
		return nil, perrors.NewValidationError("amount must not be negative")
	}

	q := url.Values{}
	q.Set("ln", address)
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/generate-invoice"
	u.RawQuery = q.Encode()

	var resp generateResponse
	if err := c.call(ctx, opGenerateInvoice, u.String(), &resp); err != nil {
		return nil, err
	}
	if resp.Invoice == nil || resp.Invoice.PaymentRequest == "" {
		return nil, perrors.NewInvoiceGenerationError(nil, "oracle returned no payment request")
	}
	return resp.Invoice, nil
}

// CheckSettlement reports whether the invoice behind verifyURL has been paid.
// verifyURL must point at an allowed host.
func (c *Client) CheckSettlement(ctx context.Context, verifyURL string) (bool, error) {
	if err := c.checkVerifyURL(verifyURL); err != nil {
		return false, err
	}

	var resp verifyResponse
	if err := c.call(ctx, opCheckSettlement, verifyURL, &resp); err != nil {
		return false, err
	}
	return resp.Settled, nil
}

func (c *Client) call(ctx context.Context, op, rawURL string, out interface{}) error {
	ctx, span := c.tracer.StartSpan(ctx, "alby."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("oracle.operation", op))

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		c.record(op, "throttled", start)
		tracing.RecordError(span, err)
		return perrors.NewOracleUnavailableError(err, "outbound rate limit wait aborted")
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.get(ctx, rawURL, out)
	})
	if err == nil {
		c.record(op, "success", start)
		return nil
	}
	tracing.RecordError(span, err)

	var se *statusError
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrHalfOpenLimit):
		c.record(op, "circuit_open", start)
		return perrors.NewOracleUnavailableError(err, "circuit breaker open")
	case errors.As(err, &se) && se.code < http.StatusInternalServerError:
		c.record(op, "rejected", start)
		span.SetAttributes(attribute.Int("http.status_code", se.code))
		c.logger.Info("oracle rejected request", zap.String("operation", op), zap.Int("status", se.code))
		if op == opGenerateInvoice {
			return perrors.NewInvoiceGenerationError(err, "oracle rejected the invoice request").WithRetryable(false)
		}
		return perrors.WrapDomainError(err, perrors.CodeValidation, "validation failed", "oracle rejected the verify handle")
	default:
		c.record(op, "error", start)
		c.logger.Warn("oracle call failed", zap.String("operation", op), zap.Error(err))
		return perrors.NewOracleUnavailableError(err, op+" failed")
	}
}

func (c *Client) get(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, body: truncate(string(body), 256)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode oracle response: %w", err)
	}
	return nil
}

func (c *Client) checkVerifyURL(verifyURL string) error {
	if verifyURL == "" {
		return perrors.NewValidationError("verify URL is required")
	}
	u, err := url.Parse(verifyURL)
	if err != nil || u.Host == "" {
		return perrors.NewValidationError("verify URL is malformed")
	}
	if u.Scheme != "https" && !(u.Scheme == "http" && c.baseURL.Scheme == "http") {
		return perrors.NewValidationError("verify URL must use https")
	}
	if u.User != nil || !c.hostAllowed(u.Hostname()) {
		return perrors.NewValidationError("verify URL host is not allowed")
	}
	return nil
}

func (c *Client) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range c.allowed {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (c *Client) record(op, outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordOracleCall(op, outcome, time.Since(start))
	}
}

// isOracleFault excludes rejections and caller cancellation from the breaker count.
func isOracleFault(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// defaultHosts allows api.getalby.com and getalby.com for a base of api.getalby.com.
func defaultHosts(host string) []string {
	host = strings.ToLower(host)
	hosts := []string{host}
	if net.ParseIP(host) != nil {
		return hosts
	}
	if labels := strings.Split(host, "."); len(labels) > 2 {
		hosts = append(hosts, strings.Join(labels[1:], "."))
	}
	return hosts
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
