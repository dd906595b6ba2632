// Package keyderiv derives per-event AES-256 keys from a service secret and a
// caller-supplied event identifier, so content can be decrypted later without a
// key store: the caller resupplies the identifier and the key version.
package keyderiv

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	perrors "lnwall-gateway/pkg/errors"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor. Changing it changes every derived key.
	Iterations = 100000
	// KeyLength is the AES-256 key size in bytes.
	KeyLength = 32
)

// KeyVersion identifies which secret and parameters produced a key.
type KeyVersion int

// DerivedKey is a 32-byte symmetric key.
type DerivedKey [KeyLength]byte

// Config configures a Deriver.
type Config struct {
	MasterSecret   string
	CurrentVersion KeyVersion
	// VersionSecrets overrides MasterSecret for individual versions.
	VersionSecrets map[KeyVersion]string
	// CacheSize bounds the in-process key cache. Zero disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// MetricsRecorder records key derivations.
type MetricsRecorder interface {
	RecordKeyDerivation(cached bool, duration time.Duration)
}

// Deriver derives keys deterministically. The optional cache is never a source
// of truth: every entry can be recomputed from (identifier, version).
type Deriver struct {
	secrets map[KeyVersion][]byte
	current KeyVersion
	cache   *expirable.LRU[string, DerivedKey]
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewDeriver builds a deriver that accepts versions 1..cfg.CurrentVersion.
func NewDeriver(cfg Config, metrics MetricsRecorder, logger *zap.Logger) (*Deriver, error) {
	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("master secret is required")
	}
	if cfg.CurrentVersion <= 0 {
		return nil, fmt.Errorf("current key version must be positive, got %d", cfg.CurrentVersion)
	}

	secrets := make(map[KeyVersion][]byte, cfg.CurrentVersion)
	for v := KeyVersion(1); v <= cfg.CurrentVersion; v++ {
		secret := cfg.MasterSecret
		if override, ok := cfg.VersionSecrets[v]; ok && override != "" {
			secret = override
		}
		secrets[v] = []byte(secret)
	}

	d := &Deriver{
		secrets: secrets,
		current: cfg.CurrentVersion,
		metrics: metrics,
		logger:  logger,
	}
	if cfg.CacheSize > 0 {
		d.cache = expirable.NewLRU[string, DerivedKey](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return d, nil
}

// CurrentVersion is the version used for new encryptions.
func (d *Deriver) CurrentVersion() KeyVersion {
	return d.current
}

// EventHash returns hex(HMAC-SHA256(secret, eventIdentifier)) for the version's secret.
// It is the PBKDF2 salt and is safe to show to the user.
func (d *Deriver) EventHash(eventIdentifier string, version KeyVersion) (string, error) {
	secret, err := d.secretFor(eventIdentifier, version)
	if err != nil {
		return "", err
	}
	return eventHash(secret, eventIdentifier), nil
}

// DeriveKey returns PBKDF2-HMAC-SHA256(secret+"-"+version, EventHash, 100000, 32).
func (d *Deriver) DeriveKey(eventIdentifier string, version KeyVersion) (DerivedKey, error) {
	secret, err := d.secretFor(eventIdentifier, version)
	if err != nil {
		return DerivedKey{}, err
	}

	start := time.Now()
	cacheKey := strconv.Itoa(int(version)) + ":" + eventIdentifier
	if d.cache != nil {
		if key, ok := d.cache.Get(cacheKey); ok {
			d.record(true, time.Since(start))
			return key, nil
		}
	}

	password := string(secret) + "-" + strconv.Itoa(int(version))
	salt := eventHash(secret, eventIdentifier)

	var key DerivedKey
	copy(key[:], pbkdf2.Key([]byte(password), []byte(salt), Iterations, KeyLength, sha256.New))

	if d.cache != nil {
		d.cache.Add(cacheKey, key)
	}
	d.record(false, time.Since(start))
	return key, nil
}

func (d *Deriver) secretFor(eventIdentifier string, version KeyVersion) ([]byte, error) {
	if eventIdentifier == "" {
		return nil, perrors.NewValidationError("event identifier is required")
	}
	secret, ok := d.secrets[version]
	if !ok {
		return nil, perrors.NewValidationError(fmt.Sprintf("unsupported key version %d", version))
	}
	return secret, nil
}

func (d *Deriver) record(cached bool, duration time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordKeyDerivation(cached, duration)
	}
	if d.logger != nil {
		d.logger.Debug("derived event key", zap.Bool("cached", cached), zap.Duration("duration", duration))
	}
}

func eventHash(secret []byte, eventIdentifier string) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(eventIdentifier))
	return hex.EncodeToString(m.Sum(nil))
}
