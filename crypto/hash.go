package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the raw SHA-256 digest of data.
func HashBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// AppAddress derives the account identity controlled by an on-chain
// application. It has the same 64-char hex shape as a public key but no
// private key exists for it, so only the application's own inner operations
// can move its funds.
func AppAddress(name string) string {
	return Hash([]byte("app:" + name))
}
