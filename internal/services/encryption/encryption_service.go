package encryption

import (
	"encoding/hex"
	"net/url"
	"strconv"
	"unicode"
	"unicode/utf8"

	"lnwall-gateway/internal/services/cipher"
	"lnwall-gateway/internal/services/keyderiv"
	perrors "lnwall-gateway/pkg/errors"

	"go.uber.org/zap"
)

// KeyDeriver derives per-event keys.
type KeyDeriver interface {
	DeriveKey(eventIdentifier string, version keyderiv.KeyVersion) (keyderiv.DerivedKey, error)
	EventHash(eventIdentifier string, version keyderiv.KeyVersion) (string, error)
	CurrentVersion() keyderiv.KeyVersion
}

// Cipher encrypts under a derived key.
type Cipher interface {
	Encrypt(plaintext []byte, key keyderiv.DerivedKey) (cipher.Envelope, error)
	Decrypt(ciphertext []byte, key keyderiv.DerivedKey, iv []byte) ([]byte, error)
}

// MetricsRecorder records cipher outcomes.
type MetricsRecorder interface {
	RecordCipherOperation(operation string, success bool)
}

// EncryptResult is returned by Service.Encrypt. Hex fields match the decrypt
// link parameters.
type EncryptResult struct {
	EventHash     string `json:"event_hash"`
	IV            string `json:"iv"`
	EncryptedData string `json:"encrypted_data"`
	Version       int    `json:"version"`
	DecryptURL    string `json:"decrypt_url"`
}

// DecryptResult is returned by Service.Decrypt.
type DecryptResult struct {
	EventHash     string `json:"event_hash"`
	IV            string `json:"iv"`
	DecryptedData string `json:"decrypted_data"`
}

// Service encrypts text content under a key derived from a caller-chosen event
// identifier. Nothing is stored: decrypting requires the identifier, the IV and
// the key version again.
type Service struct {
	deriver  KeyDeriver
	cipher   Cipher
	basePath string
	metrics  MetricsRecorder
	logger   *zap.Logger
}

func NewService(deriver KeyDeriver, c Cipher, basePath string, metrics MetricsRecorder, logger *zap.Logger) *Service {
	return &Service{
		deriver:  deriver,
		cipher:   c,
		basePath: basePath,
		metrics:  metrics,
		logger:   logger,
	}
}

// Encrypt encrypts content under the current key version.
func (s *Service) Encrypt(eventIdentifier, content string) (*EncryptResult, error) {
	if eventIdentifier == "" || content == "" {
		return nil, perrors.NewValidationError("both event data (id) and data to encrypt (cn) are required")
	}
	if !isText([]byte(content)) {
		return nil, perrors.NewValidationError("cn must be printable UTF-8 text")
	}

	version := s.deriver.CurrentVersion()
	key, err := s.deriver.DeriveKey(eventIdentifier, version)
	if err != nil {
		return nil, err
	}
	eventHash, err := s.deriver.EventHash(eventIdentifier, version)
	if err != nil {
		return nil, err
	}

	env, err := s.encrypt(content, key)
	if err != nil {
		return nil, err
	}

	ivHex := hex.EncodeToString(env.IV)
	dataHex := hex.EncodeToString(env.Ciphertext)

	return &EncryptResult{
		EventHash:     eventHash,
		IV:            ivHex,
		EncryptedData: dataHex,
		Version:       int(version),
		DecryptURL:    s.decryptURL(eventIdentifier, dataHex, ivHex, version),
	}, nil
}

// Decrypt reverses Encrypt. A wrong identifier, version, IV or ciphertext yields
// a DecryptionError, never garbage text. A zero version means the current one.
func (s *Service) Decrypt(eventIdentifier, encryptedHex, ivHex string, version keyderiv.KeyVersion) (*DecryptResult, error) {
	if eventIdentifier == "" || encryptedHex == "" || ivHex == "" {
		return nil, perrors.NewValidationError("missing required parameters for decryption")
	}
	if version == 0 {
		version = s.deriver.CurrentVersion()
	}

	ciphertext, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return nil, perrors.NewValidationError("encryptedCN must be hex encoded")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, perrors.NewValidationError("iv must be hex encoded")
	}

	key, err := s.deriver.DeriveKey(eventIdentifier, version)
	if err != nil {
		return nil, err
	}
	eventHash, err := s.deriver.EventHash(eventIdentifier, version)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.open(ciphertext, iv, key)
	if err != nil {
		return nil, err
	}

	return &DecryptResult{
		EventHash:     eventHash,
		IV:            ivHex,
		DecryptedData: plaintext,
	}, nil
}

// Seal encrypts content under the current key version and returns iv||ciphertext.
func (s *Service) Seal(eventIdentifier, content string) ([]byte, keyderiv.KeyVersion, error) {
	if eventIdentifier == "" || content == "" {
		return nil, 0, perrors.NewValidationError("event identifier and content are required")
	}
	if !isText([]byte(content)) {
		return nil, 0, perrors.NewValidationError("content must be printable UTF-8 text")
	}
	version := s.deriver.CurrentVersion()
	key, err := s.deriver.DeriveKey(eventIdentifier, version)
	if err != nil {
		return nil, 0, err
	}
	env, err := s.encrypt(content, key)
	if err != nil {
		return nil, 0, err
	}
	return env.Bytes(), version, nil
}

// Open reverses Seal.
func (s *Service) Open(eventIdentifier string, version keyderiv.KeyVersion, sealed []byte) (string, error) {
	if eventIdentifier == "" {
		return "", perrors.NewValidationError("event identifier is required")
	}
	env, err := cipher.SplitEnvelope(sealed)
	if err != nil {
		return "", perrors.NewDecryptionError(err)
	}
	key, err := s.deriver.DeriveKey(eventIdentifier, version)
	if err != nil {
		return "", err
	}
	return s.open(env.Ciphertext, env.IV, key)
}

func (s *Service) encrypt(content string, key keyderiv.DerivedKey) (cipher.Envelope, error) {
	env, err := s.cipher.Encrypt([]byte(content), key)
	if err != nil {
		s.record("encrypt", false)
		s.logger.Error("encryption failed", zap.Error(err))
		return cipher.Envelope{}, perrors.WrapDomainError(err, perrors.CodeInternal, "encryption failed", "")
	}
	s.record("encrypt", true)
	return env, nil
}

// open decrypts and checks that the result is printable text.
func (s *Service) open(ciphertext, iv []byte, key keyderiv.DerivedKey) (string, error) {
	plaintext, err := s.cipher.Decrypt(ciphertext, key, iv)
	if err != nil {
		s.record("decrypt", false)
		s.logger.Debug("decryption failed", zap.Error(err))
		return "", perrors.NewDecryptionError(err)
	}
	if !isText(plaintext) {
		s.record("decrypt", false)
		s.logger.Debug("decryption produced non-text output")
		return "", perrors.NewDecryptionError(nil)
	}
	s.record("decrypt", true)
	return string(plaintext), nil
}

func (s *Service) decryptURL(eventIdentifier, dataHex, ivHex string, version keyderiv.KeyVersion) string {
	q := url.Values{}
	q.Set("action", "decrypt")
	q.Set("encryptedCN", dataHex)
	q.Set("iv", ivHex)
	q.Set("id", eventIdentifier)
	q.Set("version", strconv.Itoa(int(version)))
	return s.basePath + "?" + q.Encode()
}

func (s *Service) record(operation string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordCipherOperation(operation, success)
	}
}

// isText rejects the random bytes a wrong key produces when it happens to pass
// the padding check.
func isText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
