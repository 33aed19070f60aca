// Package crypto wraps ed25519 keys and SHA-256 hashing for the ledger.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// PrivateKey is a raw ed25519 private key.
type PrivateKey []byte

// PublicKey is a raw ed25519 public key.
type PublicKey []byte

// GenerateKeyPair returns a fresh ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Hex returns the 64-char hex public key, which doubles as the account address.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// Short returns a 40-char display form: the first 20 bytes of SHA-256(pubkey).
func (pub PublicKey) Short() string {
	return hex.EncodeToString(HashBytes(pub)[:20])
}

func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv)
}

// Public derives the public half of priv.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// PubKeyFromHex decodes and length-checks a hex public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := decodeSized(s, ed25519.PublicKeySize, "pubkey")
	if err != nil {
		return nil, err
	}
	return PublicKey(b), nil
}

// PrivKeyFromHex decodes and length-checks a hex private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := decodeSized(s, ed25519.PrivateKeySize, "privkey")
	if err != nil {
		return nil, err
	}
	return PrivateKey(b), nil
}

func decodeSized(s string, size int, what string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}

// Sign returns the hex ed25519 signature of data.
func Sign(priv PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Verify checks a hex signature over data.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}
