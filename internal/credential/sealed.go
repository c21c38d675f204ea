package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// SecretKeyEnv holds the 32 byte key used to unseal a configured API key.
const SecretKeyEnv = "READABLE_SECRET_KEY"

var errInvalidCiphertext = fmt.Errorf("%w: invalid sealed credential", ErrUnusable)

type sealer struct {
	aead cipher.AEAD
}

func newSealerFromEnv() (*sealer, error) {
	raw := strings.TrimSpace(os.Getenv(SecretKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s not set", SecretKeyEnv)
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", SecretKeyEnv, err)
	}
	return newSealer(key)
}

func newSealer(key []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (s *sealer) seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	cipherText := s.aead.Seal(nil, nonce, []byte(plain), nil)
	buf := append(nonce, cipherText...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (s *sealer) open(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := s.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}

// Seal encrypts an API key with the key held in READABLE_SECRET_KEY, for storing in config.
func Seal(plain string) (string, error) {
	s, err := newSealerFromEnv()
	if err != nil {
		return "", err
	}
	return s.seal(plain)
}

// SealedSource unseals a configured ciphertext. The secret key is read on every call.
type SealedSource struct {
	Ciphertext string
}

func (s SealedSource) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(s.Ciphertext) == "" {
		return "", ErrMissing
	}
	sl, err := newSealerFromEnv()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnusable, err)
	}
	key, err := sl.open(strings.TrimSpace(s.Ciphertext))
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrMissing
	}
	return key, nil
}
