package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes for the lnwall gateway. Each code maps to exactly one HTTP status.
const (
	CodeValidation        = 70001
	CodeSignatureMismatch = 70002
	CodeDecryption        = 70003
	CodePaymentPending    = 70004
	CodeInvoiceGeneration = 70010
	CodeOracleUnavailable = 70011
	CodeRateLimited       = 70012
	CodeSettlementTimeout = 70013
	CodeInternal          = 70020
)

type DomainError struct {
	Code      int
	Message   string
	Details   string
	Retryable bool
	Cause     error
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError carrying the same code, so callers can write
// errors.Is(err, errors.ErrSignatureMismatch).
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

func NewDomainError(code int, message, details string) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: false,
	}
}

func WrapDomainError(err error, code int, message, details string) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: false,
		Cause:     err,
	}
}

// Sentinels for errors.Is matching. Never return these directly; they are shared.
var (
	ErrValidation        = &DomainError{Code: CodeValidation, Message: "validation failed"}
	ErrSignatureMismatch = &DomainError{Code: CodeSignatureMismatch, Message: "signature mismatch"}
	ErrDecryption        = &DomainError{Code: CodeDecryption, Message: "decryption failed"}
	ErrPaymentPending    = &DomainError{Code: CodePaymentPending, Message: "payment pending"}
	ErrInvoiceGeneration = &DomainError{Code: CodeInvoiceGeneration, Message: "invoice generation failed"}
	ErrOracleUnavailable = &DomainError{Code: CodeOracleUnavailable, Message: "invoice oracle unavailable"}
	ErrRateLimited       = &DomainError{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrSettlementTimeout = &DomainError{Code: CodeSettlementTimeout, Message: "settlement timeout"}
)

func NewValidationError(details string) *DomainError {
	return NewDomainError(CodeValidation, "validation failed", details)
}

// NewSignatureMismatchError carries no details: tampering and a wrong key look the same.
func NewSignatureMismatchError() *DomainError {
	return NewDomainError(CodeSignatureMismatch, "invalid URL or tampered data", "")
}

func NewDecryptionError(cause error) *DomainError {
	return WrapDomainError(cause, CodeDecryption, "decryption failed", "")
}

func NewInvoiceGenerationError(cause error, details string) *DomainError {
	return WrapDomainError(cause, CodeInvoiceGeneration, "failed to generate invoice", details).WithRetryable(true)
}

func NewOracleUnavailableError(cause error, details string) *DomainError {
	return WrapDomainError(cause, CodeOracleUnavailable, "invoice oracle unavailable", details).WithRetryable(true)
}

func NewSettlementTimeoutError(details string) *DomainError {
	return NewDomainError(CodeSettlementTimeout, "settlement timeout", details).WithRetryable(true)
}

func IsDomainError(err error) bool {
	var domainErr *DomainError
	return stderrors.As(err, &domainErr)
}

// AsDomainError returns the first DomainError in err's chain, or wraps err as internal.
func AsDomainError(err error) *DomainError {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr
	}
	return WrapDomainError(err, CodeInternal, "internal error", "")
}

func GetHTTPStatus(err error) int {
	var domainErr *DomainError
	if !stderrors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case CodeValidation, CodeSignatureMismatch, CodeDecryption:
		return http.StatusBadRequest
	case CodePaymentPending:
		return http.StatusPaymentRequired
	case CodeInvoiceGeneration:
		return http.StatusBadGateway
	case CodeOracleUnavailable:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeSettlementTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
