package store

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// Signer produces the detached signature the store requires on every write.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Ed25519Signer signs payloads with an ed25519 key derived from a hex seed.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer builds a signer from a hex-encoded 32-byte seed.
func NewEd25519Signer(hexSeed string) (*Ed25519Signer, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// NewEd25519SignerFromEnv reads the hex seed from the named environment
// variable, keeping key material out of config files.
func NewEd25519SignerFromEnv(envVar string) (*Ed25519Signer, error) {
	if envVar == "" {
		return nil, errors.New("signing key env var name is required")
	}
	seed := os.Getenv(envVar)
	if seed == "" {
		return nil, fmt.Errorf("environment variable %s is not set", envVar)
	}
	return NewEd25519Signer(seed)
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

// PublicKey exposes the verifying key for diagnostics.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}
