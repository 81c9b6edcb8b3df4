package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/smallbiznis/paywatch/internal/config"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrInvalidSecret        = errors.New("invalid_secret")
)

const (
	sealVersion = 1
	hkdfInfo    = "paywatch/custody/v1"
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Sealer envelope-encrypts receiving account secrets. The invoice id is bound
// as associated data so a sealed key cannot be replayed onto another invoice.
type Sealer struct {
	encKey []byte
}

func NewSealer(cfg config.Config) (*Sealer, error) {
	return NewSealerFromSecret(cfg.CustodySecretKey)
}

func NewSealerFromSecret(secret string) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Sealer{}, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	return &Sealer{encKey: key}, nil
}

// Seal encrypts plaintext for the given invoice.
func (s *Sealer) Seal(invoiceID string, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, ErrInvalidSecret
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(invoiceID))
	return json.Marshal(encryptedPayload{
		Version:    sealVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
}

// Open decrypts a payload produced by Seal for the same invoice.
func (s *Sealer) Open(invoiceID string, sealed []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	var payload encryptedPayload
	if err := json.Unmarshal(sealed, &payload); err != nil {
		return nil, ErrInvalidSecret
	}
	if payload.Version != sealVersion {
		return nil, ErrInvalidSecret
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, ErrInvalidSecret
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrInvalidSecret
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(invoiceID))
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return plaintext, nil
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	if s == nil || len(s.encKey) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
