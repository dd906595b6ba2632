package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service provides Prometheus metrics for the lnwall gateway.
type Service struct {
	// HTTP
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	rateLimitExceededTotal *prometheus.CounterVec

	// Links and crypto
	linksIssuedTotal           *prometheus.CounterVec
	signatureVerificationTotal *prometheus.CounterVec
	keyDerivationsTotal        *prometheus.CounterVec
	keyDerivationDuration      *prometheus.HistogramVec
	cipherOperationsTotal      *prometheus.CounterVec

	// Oracle
	oracleCallsTotal    *prometheus.CounterVec
	oracleCallDuration  *prometheus.HistogramVec
	circuitBreakerState *prometheus.GaugeVec

	// Settlement
	splitInvoicesTotal      *prometheus.CounterVec
	splitInvoicesDuration   prometheus.Histogram
	settlementPollsTotal    *prometheus.CounterVec
	settlementAwaitTotal    *prometheus.CounterVec
	settlementAwaitDuration *prometheus.HistogramVec
}

// NewService registers every collector on reg.
func NewService(reg prometheus.Registerer) *Service {
	f := promauto.With(reg)
	return &Service{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_requests_total",
				Help: "Total number of HTTP requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lnwall_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 90},
			},
			[]string{"endpoint", "status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_errors_total",
				Help: "Total number of error responses by domain error code",
			},
			[]string{"error_code", "endpoint"},
		),
		rateLimitExceededTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_rate_limit_exceeded_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
		linksIssuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_links_issued_total",
				Help: "Total number of signed links issued",
			},
			[]string{"link_type"},
		),
		signatureVerificationTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_signature_verifications_total",
				Help: "Total number of signature verifications by message type and result",
			},
			[]string{"message_type", "result"},
		),
		keyDerivationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_key_derivations_total",
				Help: "Total number of event key derivations",
			},
			[]string{"cached"},
		),
		keyDerivationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lnwall_key_derivation_duration_seconds",
				Help:    "Event key derivation duration in seconds",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.25},
			},
			[]string{"cached"},
		),
		cipherOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_cipher_operations_total",
				Help: "Total number of encrypt and decrypt operations",
			},
			[]string{"operation", "result"},
		),
		oracleCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_oracle_calls_total",
				Help: "Total number of invoice oracle calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		oracleCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lnwall_oracle_call_duration_seconds",
				Help:    "Invoice oracle call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		circuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lnwall_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"dependency"},
		),
		splitInvoicesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_split_invoices_total",
				Help: "Total number of split invoice pairs requested",
			},
			[]string{"result"},
		),
		splitInvoicesDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lnwall_split_invoices_duration_seconds",
				Help:    "Time to obtain both invoices of a split payment",
				Buckets: prometheus.DefBuckets,
			},
		),
		settlementPollsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_settlement_polls_total",
				Help: "Total number of settlement poll ticks by joint result",
			},
			[]string{"jointly_settled"},
		),
		settlementAwaitTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lnwall_settlement_await_total",
				Help: "Total number of settlement awaits by outcome",
			},
			[]string{"outcome"},
		),
		settlementAwaitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lnwall_settlement_await_duration_seconds",
				Help:    "Time spent waiting for joint settlement",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 300},
			},
			[]string{"outcome"},
		),
	}
}

func (s *Service) RecordRequest(endpoint, status string, duration time.Duration) {
	s.requestsTotal.WithLabelValues(endpoint, status).Inc()
	s.requestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

func (s *Service) RecordError(errorCode int, endpoint string) {
	s.errorsTotal.WithLabelValues(strconv.Itoa(errorCode), endpoint).Inc()
}

func (s *Service) RecordRateLimitExceeded(endpoint string) {
	s.rateLimitExceededTotal.WithLabelValues(endpoint).Inc()
}

func (s *Service) RecordLinkIssued(linkType string) {
	s.linksIssuedTotal.WithLabelValues(linkType).Inc()
}

func (s *Service) RecordSignatureVerification(messageType string, valid bool) {
	s.signatureVerificationTotal.WithLabelValues(messageType, result(valid)).Inc()
}

func (s *Service) RecordKeyDerivation(cached bool, duration time.Duration) {
	label := strconv.FormatBool(cached)
	s.keyDerivationsTotal.WithLabelValues(label).Inc()
	s.keyDerivationDuration.WithLabelValues(label).Observe(duration.Seconds())
}

func (s *Service) RecordCipherOperation(operation string, success bool) {
	s.cipherOperationsTotal.WithLabelValues(operation, result(success)).Inc()
}

func (s *Service) RecordOracleCall(operation, outcome string, duration time.Duration) {
	s.oracleCallsTotal.WithLabelValues(operation, outcome).Inc()
	s.oracleCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (s *Service) SetCircuitBreakerState(dependency string, state int) {
	s.circuitBreakerState.WithLabelValues(dependency).Set(float64(state))
}

func (s *Service) RecordSplitInvoices(success bool, duration time.Duration) {
	s.splitInvoicesTotal.WithLabelValues(result(success)).Inc()
	s.splitInvoicesDuration.Observe(duration.Seconds())
}

func (s *Service) RecordSettlementPoll(jointlySettled bool) {
	s.settlementPollsTotal.WithLabelValues(strconv.FormatBool(jointlySettled)).Inc()
}

func (s *Service) RecordSettlementAwait(outcome string, duration time.Duration) {
	s.settlementAwaitTotal.WithLabelValues(outcome).Inc()
	s.settlementAwaitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
