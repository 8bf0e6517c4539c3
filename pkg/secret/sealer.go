package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealVersion = 0x01

// Sealer encrypts small secrets with XChaCha20-Poly1305.
// Without a key, Seal stores the plaintext unchanged.
type Sealer struct {
	key []byte
}

// NewSealer derives a 32-byte key from passphrase. An empty passphrase disables sealing.
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return &Sealer{}
	}
	h := sha256.Sum256([]byte(passphrase))
	return &Sealer{key: h[:]}
}

// Seal returns version byte || nonce || ciphertext, or the plaintext when disabled.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	if len(s.key) == 0 {
		return append([]byte(nil), plain...), nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, nil), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(s.key) == 0 {
		return append([]byte(nil), sealed...), nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < 1+aead.NonceSize() || sealed[0] != sealVersion {
		return nil, fmt.Errorf("secret: malformed sealed value")
	}
	nonce := sealed[1 : 1+aead.NonceSize()]
	return aead.Open(nil, nonce, sealed[1+aead.NonceSize():], nil)
}
