// Package pii encrypts sensitive patient fields for storage and derives the
// keyed fingerprints used to look them up without decrypting every row.
//
// Stored tokens have the shape hex(iv) ":" hex(ciphertext), AES-256-GCM with
// a random 12-byte IV. Values without the separator are legacy plaintext
// written before encryption was introduced; Reveal passes them through and
// reports them so operators can migrate them.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12
	separator = ":"
)

var (
	// ErrMalformedToken is returned when a value does not decode as a token.
	ErrMalformedToken = errors.New("pii: malformed token")
	// ErrInvalidKey is returned for master keys that are not 32 bytes.
	ErrInvalidKey = errors.New("pii: master key must be 32 bytes")
)

// Codec encrypts and fingerprints PII with keys derived from one master key.
type Codec struct {
	aead   cipher.AEAD
	macKey []byte
	rand   io.Reader
}

// NewCodec derives independent encryption and fingerprint keys from master
// with HKDF-SHA256.
func NewCodec(master []byte) (*Codec, error) {
	if len(master) != keySize {
		return nil, ErrInvalidKey
	}

	kdf := hkdf.New(sha256.New, master, nil, []byte("clinic-assistant/pii"))
	encKey := make([]byte, keySize)
	macKey := make([]byte, keySize)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, fmt.Errorf("pii: derive encryption key: %w", err)
	}
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, fmt.Errorf("pii: derive fingerprint key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("pii: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pii: init gcm: %w", err)
	}
	return &Codec{aead: aead, macKey: macKey, rand: rand.Reader}, nil
}

// NewCodecFromHex parses a 64-character hex master key.
func NewCodecFromHex(masterHex string) (*Codec, error) {
	master, err := hex.DecodeString(strings.TrimSpace(masterHex))
	if err != nil {
		return nil, fmt.Errorf("pii: decode master key: %w", err)
	}
	return NewCodec(master)
}

// Encrypt seals plaintext into an opaque token.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("pii: generate iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + separator + hex.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (c *Codec) Decrypt(token string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(token, separator)
	if !ok {
		return "", ErrMalformedToken
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != nonceSize {
		return "", ErrMalformedToken
	}
	sealed, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", ErrMalformedToken
	}
	plain, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("pii: open token: %w", err)
	}
	return string(plain), nil
}

// EncryptNullable maps nil to nil and otherwise behaves like Encrypt.
func (c *Codec) EncryptNullable(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	token, err := c.Encrypt(*plaintext)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// DecryptNullable maps nil to nil and otherwise behaves like Decrypt.
func (c *Codec) DecryptNullable(token *string) (*string, error) {
	if token == nil {
		return nil, nil
	}
	plain, err := c.Decrypt(*token)
	if err != nil {
		return nil, err
	}
	return &plain, nil
}

// Reveal is the tolerant reader for stored columns. A value without the
// token separator is returned unchanged with legacy=true.
func (c *Codec) Reveal(stored string) (plain string, legacy bool, err error) {
	if !IsToken(stored) {
		return stored, true, nil
	}
	plain, err = c.Decrypt(stored)
	return plain, false, err
}

// Fingerprint is a deterministic keyed hash of the value, suitable for an
// equality index. Callers normalize the value first.
func (c *Codec) Fingerprint(value string) string {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsToken reports whether stored has the encrypted token shape.
func IsToken(stored string) bool {
	return strings.Contains(stored, separator)
}
