// Package paywall sells encrypted content for a lightning payment. An offer
// link carries the sealed content; the buyer gets an invoice and a release
// link, and the release link decrypts only once the invoice has settled.
package paywall

import (
	"context"
	"encoding/base64"
	"net/url"
	"strconv"

	"lnwall-gateway/internal/clients/alby"
	"lnwall-gateway/internal/services/keyderiv"
	"lnwall-gateway/internal/services/settlement"
	"lnwall-gateway/internal/services/signing"
	perrors "lnwall-gateway/pkg/errors"

	"go.uber.org/zap"
)

const (
	InvoicePath = "/api/paywall/invoice"
	ReleasePath = "/api/paywall/release"
)

type Signer interface {
	Sign(fields ...string) signing.Signature
	Verify(candidate signing.Signature, fields ...string) bool
}

// Sealer encrypts content under a key bound to an event identifier.
type Sealer interface {
	Seal(eventIdentifier, content string) ([]byte, keyderiv.KeyVersion, error)
	Open(eventIdentifier string, version keyderiv.KeyVersion, sealed []byte) (string, error)
}

type Oracle interface {
	GenerateInvoice(ctx context.Context, address string, amountMsat int64) (*alby.Invoice, error)
	CheckSettlement(ctx context.Context, verifyURL string) (bool, error)
}

// OfferRequest are the inputs of CreateOffer. Price is in whole sats.
type OfferRequest struct {
	Address string
	Price   string
	EventID string
	Content string
}

// OfferLink are the query parameters of an offer link.
type OfferLink struct {
	Address    string
	Price      string
	EventID    string
	Version    string
	Ciphertext string
	Signature  string
}

// ReleaseLink are the query parameters of a release link.
type ReleaseLink struct {
	VerifyURL  string
	Ciphertext string
	EventID    string
	Version    string
	Signature  string
}

type Offer struct {
	URL        string `json:"offer_url"`
	Ciphertext string `json:"ct"`
	Version    int    `json:"version"`
}

type PaymentInvoice struct {
	PaymentRequest string `json:"payment_request"`
	VerifyURL      string `json:"verify_url"`
	AmountMsat     int64  `json:"amount_msat"`
	Settled        bool   `json:"settled"`
	ReleaseURL     string `json:"release_url"`
}

type Release struct {
	Content string `json:"content"`
}

type Service struct {
	signer  Signer
	sealer  Sealer
	oracle  Oracle
	baseURL string
	logger  *zap.Logger
}

func NewService(signer Signer, sealer Sealer, oracle Oracle, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		signer:  signer,
		sealer:  sealer,
		oracle:  oracle,
		baseURL: baseURL,
		logger:  logger,
	}
}

// CreateOffer seals the content under (EventID, current version) and signs the
// offer terms together with the ciphertext.
func (s *Service) CreateOffer(req OfferRequest) (*Offer, error) {
	if req.Address == "" || req.Price == "" || req.EventID == "" || req.Content == "" {
		return nil, perrors.NewValidationError("missing required parameters: ln, price, id or cn")
	}
	if _, err := settlement.ParsePrice(req.Price); err != nil {
		return nil, err
	}

	sealed, version, err := s.sealer.Seal(req.EventID, req.Content)
	if err != nil {
		return nil, err
	}
	ct := base64.RawURLEncoding.EncodeToString(sealed)
	v := strconv.Itoa(int(version))

	q := url.Values{}
	q.Set("ln", req.Address)
	q.Set("price", req.Price)
	q.Set("id", req.EventID)
	q.Set("version", v)
	q.Set("ct", ct)
	q.Set("hmac", string(s.signer.Sign(req.Address, req.Price, req.EventID, v, ct)))

	return &Offer{
		URL:        s.baseURL + InvoicePath + "?" + q.Encode(),
		Ciphertext: ct,
		Version:    int(version),
	}, nil
}

// OpenOffer verifies an offer link and requests an invoice for its price. The
// returned release link binds the invoice's verify URL to the sealed content.
func (s *Service) OpenOffer(ctx context.Context, link OfferLink) (*PaymentInvoice, error) {
	if link.Address == "" || link.Price == "" || link.EventID == "" || link.Version == "" || link.Ciphertext == "" {
		return nil, perrors.NewValidationError("missing required offer parameters")
	}
	if !s.signer.Verify(signing.Signature(link.Signature), link.Address, link.Price, link.EventID, link.Version, link.Ciphertext) {
		return nil, perrors.NewSignatureMismatchError()
	}
	priceSats, err := settlement.ParsePrice(link.Price)
	if err != nil {
		return nil, err
	}
	amountMsat := priceSats * settlement.MsatPerSat

	inv, err := s.oracle.GenerateInvoice(ctx, link.Address, amountMsat)
	if err != nil {
		if perrors.IsDomainError(err) {
			return nil, err
		}
		return nil, perrors.NewInvoiceGenerationError(err, "failed to generate invoice")
	}
	if inv == nil || inv.Verify == "" {
		return nil, perrors.NewInvoiceGenerationError(nil, "oracle returned no verify handle")
	}

	// A failed first check is not fatal; the buyer polls the release link.
	settled, err := s.oracle.CheckSettlement(ctx, inv.Verify)
	if err != nil {
		s.logger.Warn("initial settlement check failed", zap.Error(err))
		settled = false
	}

	q := url.Values{}
	q.Set("verifyURL", inv.Verify)
	q.Set("ct", link.Ciphertext)
	q.Set("id", link.EventID)
	q.Set("version", link.Version)
	q.Set("hmac", string(s.signer.Sign(inv.Verify, link.Ciphertext, link.EventID, link.Version)))

	return &PaymentInvoice{
		PaymentRequest: inv.PaymentRequest,
		VerifyURL:      inv.Verify,
		AmountMsat:     amountMsat,
		Settled:        settled,
		ReleaseURL:     s.baseURL + ReleasePath + "?" + q.Encode(),
	}, nil
}

// Release decrypts the content once the invoice behind the release link has
// settled. An unpaid invoice yields PaymentPending.
func (s *Service) Release(ctx context.Context, link ReleaseLink) (*Release, error) {
	if link.VerifyURL == "" || link.Ciphertext == "" || link.EventID == "" || link.Version == "" {
		return nil, perrors.NewValidationError("missing required release parameters")
	}
	if !s.signer.Verify(signing.Signature(link.Signature), link.VerifyURL, link.Ciphertext, link.EventID, link.Version) {
		return nil, perrors.NewSignatureMismatchError()
	}
	version, err := strconv.Atoi(link.Version)
	if err != nil || version <= 0 {
		return nil, perrors.NewValidationError("version must be a positive integer")
	}
	sealed, err := base64.RawURLEncoding.DecodeString(link.Ciphertext)
	if err != nil {
		return nil, perrors.NewDecryptionError(err)
	}

	settled, err := s.oracle.CheckSettlement(ctx, link.VerifyURL)
	if err != nil {
		if perrors.IsDomainError(err) {
			return nil, err
		}
		return nil, perrors.NewOracleUnavailableError(err, "settlement check failed")
	}
	if !settled {
		return nil, perrors.NewDomainError(perrors.CodePaymentPending, "payment pending", "waiting for payment")
	}

	content, err := s.sealer.Open(link.EventID, keyderiv.KeyVersion(version), sealed)
	if err != nil {
		return nil, err
	}
	return &Release{Content: content}, nil
}
