package profile

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealMagic prefixes encrypted profile files so plaintext files written
// before a state key was configured still load.
var sealMagic = []byte("pds1")

// sealer encrypts profile files at rest with XChaCha20-Poly1305. The key is
// derived from the configured state key; without one, seal/open are identity.
type sealer struct {
	key []byte
}

func newSealer(stateKey string) *sealer {
	if stateKey == "" {
		return &sealer{}
	}
	sum := sha256.Sum256([]byte(stateKey))
	return &sealer{key: sum[:]}
}

func (s *sealer) enabled() bool {
	return len(s.key) > 0
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	if !s.enabled() {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealMagic)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	if len(data) < len(sealMagic) || string(data[:len(sealMagic)]) != string(sealMagic) {
		// plaintext file from before encryption was enabled
		return data, nil
	}
	if !s.enabled() {
		return nil, fmt.Errorf("profile file is encrypted but no state key is configured")
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	rest := data[len(sealMagic):]
	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed profile file is truncated")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
