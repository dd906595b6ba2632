package api

import (
	"context"

	"lnwall-gateway/internal/services/encryption"
	"lnwall-gateway/internal/services/keyderiv"
	"lnwall-gateway/internal/services/paywall"
	"lnwall-gateway/internal/services/referral"
	"lnwall-gateway/internal/services/settlement"
)

type ReferralService interface {
	CreateLink(eventID, publicKey string) (string, error)
	ValidateLink(eventID, publicKey, signature string) *referral.VerificationReport
	CreateSplitLink(address1, address2, price, split string) (string, error)
	VerifySplitLink(address1, address2, price, split, signature string) error
}

type SettlementCoordinator interface {
	CreateSplitInvoices(ctx context.Context, addressA, addressB string, totalMsat int64, percent int) (*settlement.SplitInvoices, error)
	VerifyStatusToken(verifyA, verifyB, token string) error
	CheckSettlement(ctx context.Context, verifyA, verifyB string) (*settlement.SettlementState, error)
	AwaitSettlement(ctx context.Context, verifyA, verifyB string) (*settlement.SettlementState, error)
}

type EncryptionService interface {
	Encrypt(eventIdentifier, content string) (*encryption.EncryptResult, error)
	Decrypt(eventIdentifier, encryptedHex, ivHex string, version keyderiv.KeyVersion) (*encryption.DecryptResult, error)
}

type PaywallService interface {
	CreateOffer(req paywall.OfferRequest) (*paywall.Offer, error)
	OpenOffer(ctx context.Context, link paywall.OfferLink) (*paywall.PaymentInvoice, error)
	Release(ctx context.Context, link paywall.ReleaseLink) (*paywall.Release, error)
}

type ErrorRecorder interface {
	RecordError(errorCode int, endpoint string)
}

// HealthChecker is a dependency probed by /healthz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
