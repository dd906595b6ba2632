// Package cipher implements AES-256-CBC with PKCS#7 padding and a fresh random IV
// per encryption.
//
// CBC gives confidentiality only. A wrong key or IV usually fails the padding
// check, but not always; callers that need tamper evidence rely on signed links
// and on the key being bound to the event identifier.
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"lnwall-gateway/internal/services/keyderiv"
)

// IVSize is the AES block size.
const IVSize = aes.BlockSize

var (
	ErrDecryption = errors.New("decryption failed")
	errIVLength   = errors.New("invalid iv length")
	errBlockSize  = errors.New("ciphertext is not a multiple of the block size")
	errPadding    = errors.New("invalid padding")
)

// Envelope carries ciphertext with the IV it was produced under.
type Envelope struct {
	IV         []byte
	Ciphertext []byte
}

// Bytes returns iv || ciphertext.
func (e Envelope) Bytes() []byte {
	out := make([]byte, 0, len(e.IV)+len(e.Ciphertext))
	out = append(out, e.IV...)
	return append(out, e.Ciphertext...)
}

// SplitEnvelope splits iv || ciphertext.
func SplitEnvelope(b []byte) (Envelope, error) {
	if len(b) < IVSize+aes.BlockSize {
		return Envelope{}, fmt.Errorf("%w: envelope too short", ErrDecryption)
	}
	return Envelope{IV: b[:IVSize], Ciphertext: b[IVSize:]}, nil
}

// Cipher encrypts and decrypts with derived keys. The zero value is not usable;
// use New.
type Cipher struct {
	random io.Reader
}

// New returns a Cipher drawing IVs from crypto/rand.
func New() *Cipher {
	return &Cipher{random: rand.Reader}
}

// Encrypt pads plaintext and encrypts it under key with a new random IV.
func (c *Cipher) Encrypt(plaintext []byte, key keyderiv.DerivedKey) (Envelope, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Envelope{}, fmt.Errorf("aes key error: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return Envelope{}, fmt.Errorf("iv generation failed: %w", err)
	}

	padded := pad(plaintext)
	out := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return Envelope{IV: iv, Ciphertext: out}, nil
}

// Decrypt reverses Encrypt. Every failure wraps ErrDecryption.
func (c *Cipher) Decrypt(ciphertext []byte, key keyderiv.DerivedKey, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, errIVLength)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, errBlockSize)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	out := make([]byte, len(ciphertext))
	stdcipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	plaintext, err := unpad(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errPadding
		}
	}
	return b[:len(b)-n], nil
}
