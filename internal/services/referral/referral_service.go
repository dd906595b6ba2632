package referral

import (
	"fmt"
	"net/url"
	"time"

	"lnwall-gateway/internal/services/settlement"
	"lnwall-gateway/internal/services/signing"
	perrors "lnwall-gateway/pkg/errors"

	"go.uber.org/zap"
)

const (
	CheckPath = "/api/ref/check"
	SplitPath = "/api/split"
)

// Signer signs canonical field tuples.
type Signer interface {
	Sign(fields ...string) signing.Signature
	Verify(candidate signing.Signature, fields ...string) bool
}

// MetricsRecorder records signature outcomes by message type.
type MetricsRecorder interface {
	RecordSignatureVerification(messageType string, valid bool)
	RecordLinkIssued(linkType string)
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Step is one entry of a verification trace.
type Step struct {
	Name     string        `json:"name"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
}

// VerificationReport describes how a referral link was checked. Steps are
// informational; Valid is the only trust decision.
type VerificationReport struct {
	Valid         bool          `json:"valid"`
	Steps         []Step        `json:"steps"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// Service issues and checks signed referral links.
type Service struct {
	signer       Signer
	baseURL      string
	maxURLLength int
	metrics      MetricsRecorder
	logger       *zap.Logger
}

func NewService(signer Signer, baseURL string, maxURLLength int, metrics MetricsRecorder, logger *zap.Logger) *Service {
	return &Service{
		signer:       signer,
		baseURL:      baseURL,
		maxURLLength: maxURLLength,
		metrics:      metrics,
		logger:       logger,
	}
}

// CreateLink returns a check URL carrying eventID, publicKey and their signature.
func (s *Service) CreateLink(eventID, publicKey string) (string, error) {
	if eventID == "" || publicKey == "" {
		return "", perrors.NewValidationError("missing required parameters: eventID or publicKey")
	}

	q := url.Values{}
	q.Set("eventID", eventID)
	q.Set("publicKey", publicKey)
	q.Set("signature", string(s.signer.Sign(eventID, publicKey)))

	link, err := s.build(CheckPath, q)
	if err != nil {
		return "", err
	}
	s.issued("referral")
	return link, nil
}

// ValidateLink recomputes the signature over (eventID, publicKey) and records
// each step. Missing parameters end the trace after the first step.
func (s *Service) ValidateLink(eventID, publicKey, signature string) *VerificationReport {
	start := time.Now()
	report := &VerificationReport{}
	defer func() {
		report.TotalDuration = time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordSignatureVerification("referral", report.Valid)
		}
	}()

	present := eventID != "" && publicKey != "" && signature != ""
	report.step("Parameter Validation", present, start)
	if !present {
		return report
	}

	t := time.Now()
	canonical := signing.Canonicalize(eventID, publicKey)
	report.step("Data Preparation", canonical != "", t)

	t = time.Now()
	expected := s.signer.Sign(eventID, publicKey)
	report.step("Signature Computation", expected != "", t)

	t = time.Now()
	report.Valid = signing.Equal(expected, signing.Signature(signature))
	report.step("Signature Verification", report.Valid, t)

	if !report.Valid {
		s.logger.Info("referral signature rejected", zap.String("event_id", eventID))
	}
	return report
}

// CreateSplitLink signs split payment terms and returns a link to the split
// invoice endpoint.
func (s *Service) CreateSplitLink(address1, address2, price, split string) (string, error) {
	if address1 == "" || address2 == "" || price == "" || split == "" {
		return "", perrors.NewValidationError("missing required parameters: lightning addresses, price, or split percentage")
	}
	if _, _, err := settlement.ParseSplitTerms(price, split); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("address1", address1)
	q.Set("address2", address2)
	q.Set("price", price)
	q.Set("split", split)
	q.Set("signature", string(s.signer.Sign(address1, address2, price, split)))

	link, err := s.build(SplitPath, q)
	if err != nil {
		return "", err
	}
	s.issued("split")
	return link, nil
}

// VerifySplitLink checks a split link signature. The error never says which
// field was altered.
func (s *Service) VerifySplitLink(address1, address2, price, split, signature string) error {
	valid := signature != "" && s.signer.Verify(signing.Signature(signature), address1, address2, price, split)
	if s.metrics != nil {
		s.metrics.RecordSignatureVerification("split_referral", valid)
	}
	if !valid {
		return perrors.NewSignatureMismatchError()
	}
	return nil
}

func (s *Service) build(path string, q url.Values) (string, error) {
	link := s.baseURL + path + "?" + q.Encode()
	if s.maxURLLength > 0 && len(link) > s.maxURLLength {
		return "", perrors.NewValidationError(fmt.Sprintf("generated URL exceeds maximum length of %d", s.maxURLLength))
	}
	return link, nil
}

func (s *Service) issued(linkType string) {
	if s.metrics != nil {
		s.metrics.RecordLinkIssued(linkType)
	}
}

func (r *VerificationReport) step(name string, ok bool, started time.Time) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailed
	}
	r.Steps = append(r.Steps, Step{Name: name, Outcome: outcome, Duration: time.Since(started)})
}
