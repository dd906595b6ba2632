package api

import (
	"context"

	"lnwall-gateway/internal/services/encryption"
	"lnwall-gateway/internal/services/keyderiv"
	"lnwall-gateway/internal/services/paywall"
	"lnwall-gateway/internal/services/referral"
	"lnwall-gateway/internal/services/settlement"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockReferralService struct {
	mock.Mock
}

func (m *mockReferralService) CreateLink(eventID, publicKey string) (string, error) {
	args := m.Called(eventID, publicKey)
	return args.String(0), args.Error(1)
}

func (m *mockReferralService) ValidateLink(eventID, publicKey, signature string) *referral.VerificationReport {
	args := m.Called(eventID, publicKey, signature)
	return args.Get(0).(*referral.VerificationReport)
}

func (m *mockReferralService) CreateSplitLink(address1, address2, price, split string) (string, error) {
	args := m.Called(address1, address2, price, split)
	return args.String(0), args.Error(1)
}

func (m *mockReferralService) VerifySplitLink(address1, address2, price, split, signature string) error {
	args := m.Called(address1, address2, price, split, signature)
	return args.Error(0)
}

type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) CreateSplitInvoices(ctx context.Context, addressA, addressB string, totalMsat int64, percent int) (*settlement.SplitInvoices, error) {
	args := m.Called(ctx, addressA, addressB, totalMsat, percent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.SplitInvoices), args.Error(1)
}

func (m *mockCoordinator) VerifyStatusToken(verifyA, verifyB, token string) error {
	args := m.Called(verifyA, verifyB, token)
	return args.Error(0)
}

func (m *mockCoordinator) CheckSettlement(ctx context.Context, verifyA, verifyB string) (*settlement.SettlementState, error) {
	args := m.Called(ctx, verifyA, verifyB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.SettlementState), args.Error(1)
}

func (m *mockCoordinator) AwaitSettlement(ctx context.Context, verifyA, verifyB string) (*settlement.SettlementState, error) {
	args := m.Called(ctx, verifyA, verifyB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.SettlementState), args.Error(1)
}

type mockEncryptionService struct {
	mock.Mock
}

func (m *mockEncryptionService) Encrypt(eventIdentifier, content string) (*encryption.EncryptResult, error) {
	args := m.Called(eventIdentifier, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*encryption.EncryptResult), args.Error(1)
}

func (m *mockEncryptionService) Decrypt(eventIdentifier, encryptedHex, ivHex string, version keyderiv.KeyVersion) (*encryption.DecryptResult, error) {
	args := m.Called(eventIdentifier, encryptedHex, ivHex, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*encryption.DecryptResult), args.Error(1)
}

type mockPaywallService struct {
	mock.Mock
}

func (m *mockPaywallService) CreateOffer(req paywall.OfferRequest) (*paywall.Offer, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paywall.Offer), args.Error(1)
}

func (m *mockPaywallService) OpenOffer(ctx context.Context, link paywall.OfferLink) (*paywall.PaymentInvoice, error) {
	args := m.Called(ctx, link)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paywall.PaymentInvoice), args.Error(1)
}

func (m *mockPaywallService) Release(ctx context.Context, link paywall.ReleaseLink) (*paywall.Release, error) {
	args := m.Called(ctx, link)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paywall.Release), args.Error(1)
}

type mockErrorRecorder struct {
	mock.Mock
}

func (m *mockErrorRecorder) RecordError(errorCode int, endpoint string) {
	m.Called(errorCode, endpoint)
}

type mockHealthChecker struct {
	mock.Mock
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type testDeps struct {
	referrals   *mockReferralService
	coordinator *mockCoordinator
	encryption  *mockEncryptionService
	paywall     *mockPaywallService
	errors      *mockErrorRecorder
	redis       *mockHealthChecker
}

func newTestRouter(requireSplitSignature bool) (*gin.Engine, *testDeps) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	d := &testDeps{
		referrals:   new(mockReferralService),
		coordinator: new(mockCoordinator),
		encryption:  new(mockEncryptionService),
		paywall:     new(mockPaywallService),
		errors:      new(mockErrorRecorder),
		redis:       new(mockHealthChecker),
	}
	d.errors.On("RecordError", mock.Anything, mock.Anything).Maybe()

	router := gin.New()
	Register(router, Handlers{
		Referral: NewReferralHandler(d.referrals, d.errors, logger),
		Split:    NewSplitHandler(d.referrals, d.coordinator, testBaseURL, requireSplitSignature, d.errors, logger),
		Encrypt:  NewEncryptHandler(d.encryption, d.errors, logger),
		Paywall:  NewPaywallHandler(d.paywall, d.errors, logger),
		Health:   NewHealthHandler(map[string]HealthChecker{"redis": d.redis, "absent": nil}, logger),
	})
	return router, d
}

func newNopLogger() *zap.Logger {
	return zap.NewNop()
}
