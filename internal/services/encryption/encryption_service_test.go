package encryption

import (
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"testing"

	"lnwall-gateway/internal/services/cipher"
	"lnwall-gateway/internal/services/keyderiv"
	perrors "lnwall-gateway/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordCipherOperation(operation string, success bool) {
	m.Called(operation, success)
}

func newTestService(t *testing.T, metrics MetricsRecorder) *Service {
	t.Helper()
	deriver, err := keyderiv.NewDeriver(keyderiv.Config{
		MasterSecret:   "test-master-secret",
		CurrentVersion: 2,
		CacheSize:      16,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return NewService(deriver, cipher.New(), "/api/encrypt", metrics, zap.NewNop())
}

func TestService_EncryptDecrypt_RoundTrip(t *testing.T) {
	svc := newTestService(t, nil)

	enc, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, enc.Version)
	assert.Len(t, enc.EventHash, 64)
	assert.Len(t, enc.IV, 32)

	dec, err := svc.Decrypt("evt123", enc.EncryptedData, enc.IV, 2)
	require.NoError(t, err)
	assert.Equal(t, "hello", dec.DecryptedData)
	assert.Equal(t, enc.EventHash, dec.EventHash)
}

func TestService_Encrypt_DecryptURL(t *testing.T) {
	svc := newTestService(t, nil)

	enc, err := svc.Encrypt("evt 123&x", "hello")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(enc.DecryptURL, "/api/encrypt?"))
	u, err := url.Parse(enc.DecryptURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "decrypt", q.Get("action"))
	assert.Equal(t, enc.EncryptedData, q.Get("encryptedCN"))
	assert.Equal(t, enc.IV, q.Get("iv"))
	assert.Equal(t, "evt 123&x", q.Get("id"))
	assert.Equal(t, "2", q.Get("version"))
}

func TestService_Encrypt_SameInputDifferentCiphertext(t *testing.T) {
	svc := newTestService(t, nil)

	a, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)
	b, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)

	assert.Equal(t, a.EventHash, b.EventHash)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.EncryptedData, b.EncryptedData)
}

func TestService_Decrypt_DifferentEventIdentifier(t *testing.T) {
	svc := newTestService(t, nil)

	enc, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)

	dec, err := svc.Decrypt("evt124", enc.EncryptedData, enc.IV, 2)

	assert.Nil(t, dec)
	assert.True(t, errors.Is(err, perrors.ErrDecryption))
	assert.Equal(t, 400, perrors.GetHTTPStatus(err))
}

func TestService_Decrypt_DifferentVersion(t *testing.T) {
	svc := newTestService(t, nil)

	enc, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)

	dec, err := svc.Decrypt("evt123", enc.EncryptedData, enc.IV, 1)

	assert.Nil(t, dec)
	assert.True(t, errors.Is(err, perrors.ErrDecryption))
}

func TestService_Decrypt_UnsupportedVersion(t *testing.T) {
	svc := newTestService(t, nil)

	enc, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)

	_, err = svc.Decrypt("evt123", enc.EncryptedData, enc.IV, 3)

	assert.True(t, errors.Is(err, perrors.ErrValidation))
}

func TestService_Decrypt_ZeroVersionMeansCurrent(t *testing.T) {
	svc := newTestService(t, nil)

	enc, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)

	dec, err := svc.Decrypt("evt123", enc.EncryptedData, enc.IV, 0)

	require.NoError(t, err)
	assert.Equal(t, "hello", dec.DecryptedData)
}

func TestService_Decrypt_TamperedInput(t *testing.T) {
	svc := newTestService(t, nil)

	enc, err := svc.Encrypt("evt123", "hello")
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    string
		iv      string
		wantErr *perrors.DomainError
	}{
		{"non-hex data", "zz", enc.IV, perrors.ErrValidation},
		{"non-hex iv", enc.EncryptedData, "not-hex", perrors.ErrValidation},
		{"short iv", enc.EncryptedData, enc.IV[:16], perrors.ErrDecryption},
		{"truncated data", enc.EncryptedData[:20], enc.IV, perrors.ErrDecryption},
		{"missing data", "", enc.IV, perrors.ErrValidation},
		{"missing iv", enc.EncryptedData, "", perrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := svc.Decrypt("evt123", tt.data, tt.iv, 2)
			assert.Nil(t, dec)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestService_Encrypt_Validation(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Encrypt("", "hello")
	assert.True(t, errors.Is(err, perrors.ErrValidation))

	_, err = svc.Encrypt("evt123", "")
	assert.True(t, errors.Is(err, perrors.ErrValidation))

	_, err = svc.Encrypt("evt123", "bell\x07")
	assert.True(t, errors.Is(err, perrors.ErrValidation))
}

func TestService_RecordsMetrics(t *testing.T) {
	metrics := new(MockMetrics)
	metrics.On("RecordCipherOperation", "encrypt", true).Once()
	metrics.On("RecordCipherOperation", "decrypt", true).Once()
	svc := newTestService(t, metrics)

	enc, err := svc.Encrypt("evt123", "multi\nline text")
	require.NoError(t, err)
	dec, err := svc.Decrypt("evt123", enc.EncryptedData, enc.IV, 2)
	require.NoError(t, err)

	assert.Equal(t, "multi\nline text", dec.DecryptedData)
	metrics.AssertExpectations(t)
}

func TestIsText(t *testing.T) {
	assert.True(t, isText([]byte("hello")))
	assert.True(t, isText([]byte("héllo\twörld\r\n")))
	assert.True(t, isText([]byte{}))
	assert.False(t, isText([]byte{0xff, 0xfe}))
	assert.False(t, isText([]byte("nul\x00")))
	assert.False(t, isText([]byte(hex.EncodeToString([]byte("x")) + "\x1b")))
}

func TestService_SealOpen(t *testing.T) {
	svc := newTestService(t, nil)

	sealed, version, err := svc.Seal("evt123", "premium content")
	require.NoError(t, err)
	assert.Equal(t, keyderiv.KeyVersion(2), version)
	assert.Len(t, sealed, cipher.IVSize+16)

	content, err := svc.Open("evt123", version, sealed)
	require.NoError(t, err)
	assert.Equal(t, "premium content", content)
}

func TestService_Open_Failures(t *testing.T) {
	svc := newTestService(t, nil)
	sealed, version, err := svc.Seal("evt123", "premium content")
	require.NoError(t, err)

	_, err = svc.Open("evt999", version, sealed)
	assert.True(t, errors.Is(err, perrors.ErrDecryption))

	_, err = svc.Open("evt123", version, sealed[:20])
	assert.True(t, errors.Is(err, perrors.ErrDecryption))

	_, err = svc.Open("", version, sealed)
	assert.True(t, errors.Is(err, perrors.ErrValidation))

	_, err = svc.Open("evt123", 9, sealed)
	assert.True(t, errors.Is(err, perrors.ErrValidation))
}
