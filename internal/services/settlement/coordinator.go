// Package settlement splits one payment into two invoices and joins their
// settlement into a single completion signal.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lnwall-gateway/internal/clients/alby"
	"lnwall-gateway/internal/services/signing"
	"lnwall-gateway/internal/services/tracing"
	perrors "lnwall-gateway/pkg/errors"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Oracle creates invoices and reports their settlement.
type Oracle interface {
	GenerateInvoice(ctx context.Context, address string, amountMsat int64) (*alby.Invoice, error)
	CheckSettlement(ctx context.Context, verifyURL string) (bool, error)
}

// Signer signs the status token.
type Signer interface {
	Sign(fields ...string) signing.Signature
	Verify(candidate signing.Signature, fields ...string) bool
}

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// EventPublisher publishes settlement events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, stream string, event interface{}) error
}

// MetricsRecorder records settlement activity.
type MetricsRecorder interface {
	RecordSplitInvoices(success bool, duration time.Duration)
	RecordSettlementPoll(jointlySettled bool)
	RecordSettlementAwait(outcome string, duration time.Duration)
}

// Config bounds AwaitSettlement.
type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(co *Coordinator) { co.metrics = m }
}

func WithTracer(t Tracer) Option {
	return func(co *Coordinator) { co.tracer = t }
}

// WithEventPublisher publishes a SettledEvent to stream when AwaitSettlement
// observes joint settlement.
func WithEventPublisher(p EventPublisher, stream string) Option {
	return func(co *Coordinator) {
		co.publisher = p
		co.stream = stream
	}
}

// Coordinator holds no per-payment state. Everything it needs is resupplied by
// the caller on each request.
type Coordinator struct {
	oracle    Oracle
	signer    Signer
	cfg       Config
	clock     clock.Clock
	tracer    Tracer
	publisher EventPublisher
	stream    string
	metrics   MetricsRecorder
	logger    *zap.Logger
}

func NewCoordinator(oracle Oracle, signer Signer, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		oracle: oracle,
		signer: signer,
		cfg:    cfg,
		clock:  clock.New(),
		tracer: tracing.NewService("lnwall-gateway/settlement"),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSplitInvoices requests both invoices concurrently. Either both are
// returned or the call fails with an InvoiceGenerationError.
func (c *Coordinator) CreateSplitInvoices(ctx context.Context, addressA, addressB string, totalMsat int64, percent int) (*SplitInvoices, error) {
	if addressA == "" || addressB == "" {
		return nil, perrors.NewValidationError("both lightning addresses are required")
	}
	if totalMsat <= 0 {
		return nil, perrors.NewValidationError("total amount must be positive")
	}
	amountA, amountB, err := ComputeSplit(totalMsat, percent)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.StartSpan(ctx, "settlement.create_split_invoices")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("split.total_msat", totalMsat),
		attribute.Int("split.percent", percent),
	)

	start := c.clock.Now()
	var (
		g                  errgroup.Group
		invoiceA, invoiceB *alby.Invoice
		errA, errB         error
	)
	g.Go(func() error {
		invoiceA, errA = c.generate(ctx, addressA, amountA)
		return errA
	})
	g.Go(func() error {
		invoiceB, errB = c.generate(ctx, addressB, amountB)
		return errB
	})

	if g.Wait() != nil {
		err := multierr.Combine(errA, errB)
		tracing.RecordError(span, err)
		c.recordInvoices(false, c.clock.Since(start))
		c.logger.Warn("split invoice generation failed",
			zap.Bool("invoice_a_ok", errA == nil),
			zap.Bool("invoice_b_ok", errB == nil),
			zap.Error(err),
		)
		return nil, perrors.NewInvoiceGenerationError(err, "failed to generate invoice, please try again")
	}
	c.recordInvoices(true, c.clock.Since(start))

	return &SplitInvoices{
		InvoiceA: Invoice{
			Address:        addressA,
			AmountMsat:     amountA,
			PaymentRequest: invoiceA.PaymentRequest,
			VerifyURL:      invoiceA.Verify,
		},
		InvoiceB: Invoice{
			Address:        addressB,
			AmountMsat:     amountB,
			PaymentRequest: invoiceB.PaymentRequest,
			VerifyURL:      invoiceB.Verify,
		},
		StatusToken: string(c.signer.Sign(invoiceA.Verify, invoiceB.Verify)),
	}, nil
}

// VerifyStatusToken checks that the verify URLs were issued together by this service.
func (c *Coordinator) VerifyStatusToken(verifyA, verifyB, token string) error {
	if token == "" || !c.signer.Verify(signing.Signature(token), verifyA, verifyB) {
		return perrors.NewSignatureMismatchError()
	}
	return nil
}

// CheckSettlement polls both invoices once. It is idempotent: the joint flag
// is derived from the two current statuses only.
func (c *Coordinator) CheckSettlement(ctx context.Context, verifyA, verifyB string) (*SettlementState, error) {
	if verifyA == "" || verifyB == "" {
		return nil, perrors.NewValidationError("both verify handles are required")
	}

	ctx, span := c.tracer.StartSpan(ctx, "settlement.check")
	defer span.End()

	cells := pendingCells(verifyA, verifyB)
	if err := c.poll(ctx, &cells); err != nil {
		tracing.RecordError(span, err)
		return nil, classify(err)
	}

	state := newState(cells[0], cells[1], c.clock.Now())
	span.SetAttributes(attribute.Bool("settlement.jointly_settled", state.JointlySettled))
	c.recordPoll(state)
	return state, nil
}

// AwaitSettlement polls every PollInterval until both invoices settle or
// MaxWait elapses. A side observed settled is not polled again. Transient
// oracle failures are retried on the next tick.
func (c *Coordinator) AwaitSettlement(ctx context.Context, verifyA, verifyB string) (*SettlementState, error) {
	if verifyA == "" || verifyB == "" {
		return nil, perrors.NewValidationError("both verify handles are required")
	}

	ctx, span := c.tracer.StartSpan(ctx, "settlement.await")
	defer span.End()

	start := c.clock.Now()
	timeout := c.clock.Timer(c.cfg.MaxWait)
	defer timeout.Stop()
	ticker := c.clock.Ticker(c.cfg.PollInterval)
	defer ticker.Stop()

	cells := pendingCells(verifyA, verifyB)
	for polls := 1; ; polls++ {
		if err := c.poll(ctx, &cells); err != nil {
			err = classify(err)
			if !perrors.AsDomainError(err).Retryable {
				tracing.RecordError(span, err)
				c.recordAwait("error", c.clock.Since(start))
				return nil, err
			}
			c.logger.Warn("settlement poll failed, retrying", zap.Int("poll", polls), zap.Error(err))
		}

		state := newState(cells[0], cells[1], c.clock.Now())
		c.recordPoll(state)
		if state.JointlySettled {
			span.SetAttributes(attribute.Int("settlement.polls", polls))
			c.publishSettled(ctx, state)
			c.recordAwait("settled", c.clock.Since(start))
			return state, nil
		}

		select {
		case <-ctx.Done():
			c.recordAwait("cancelled", c.clock.Since(start))
			return nil, ctx.Err()
		case <-timeout.C:
			err := perrors.NewSettlementTimeoutError(fmt.Sprintf(
				"invoices not jointly settled within %s (a=%s, b=%s)",
				c.cfg.MaxWait, cells[0].Status, cells[1].Status,
			))
			tracing.RecordError(span, err)
			c.recordAwait("timeout", c.clock.Since(start))
			return nil, err
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) generate(ctx context.Context, address string, amountMsat int64) (*alby.Invoice, error) {
	inv, err := c.oracle.GenerateInvoice(ctx, address, amountMsat)
	if err != nil {
		return nil, fmt.Errorf("invoice for %s: %w", address, err)
	}
	if inv == nil || inv.PaymentRequest == "" || inv.Verify == "" {
		return nil, fmt.Errorf("invoice for %s: oracle returned no payment request", address)
	}
	return inv, nil
}

// poll refreshes every pending cell concurrently. Settled cells are left alone.
func (c *Coordinator) poll(ctx context.Context, cells *[2]Cell) error {
	var (
		g    errgroup.Group
		errs [2]error
	)
	for i := range cells {
		if cells[i].Settled() {
			continue
		}
		i := i
		g.Go(func() error {
			settled, err := c.oracle.CheckSettlement(ctx, cells[i].VerifyURL)
			if err != nil {
				errs[i] = err
				return err
			}
			cells[i].Status = statusOf(settled)
			return nil
		})
	}
	if g.Wait() != nil {
		return multierr.Combine(errs[0], errs[1])
	}
	return nil
}

func (c *Coordinator) publishSettled(ctx context.Context, state *SettlementState) {
	if c.publisher == nil || c.stream == "" {
		return
	}
	event := SettledEvent{
		VerifyA:   state.InvoiceA.VerifyURL,
		VerifyB:   state.InvoiceB.VerifyURL,
		SettledAt: state.CheckedAt,
	}
	if err := c.publisher.PublishEvent(ctx, c.stream, event); err != nil {
		c.logger.Warn("failed to publish settlement event", zap.String("stream", c.stream), zap.Error(err))
	}
}

func (c *Coordinator) recordInvoices(success bool, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordSplitInvoices(success, d)
	}
}

func (c *Coordinator) recordPoll(state *SettlementState) {
	if c.metrics != nil {
		c.metrics.RecordSettlementPoll(state.JointlySettled)
	}
}

func (c *Coordinator) recordAwait(outcome string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordSettlementAwait(outcome, d)
	}
}

func pendingCells(verifyA, verifyB string) [2]Cell {
	return [2]Cell{
		{VerifyURL: verifyA, Status: StatusPending},
		{VerifyURL: verifyB, Status: StatusPending},
	}
}

// classify keeps a non-retryable domain error (a rejected verify URL, say) and
// reports everything else as the oracle being unavailable.
func classify(err error) error {
	for _, e := range multierr.Errors(err) {
		var de *perrors.DomainError
		if errors.As(e, &de) && !de.Retryable {
			return de
		}
	}
	return perrors.NewOracleUnavailableError(err, "settlement check failed")
}
