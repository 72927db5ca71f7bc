package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// TokenSize256 is the byte length of generated secrets: 256 bits, 43
// characters once base64url encoded.
const TokenSize256 = 32

// MustGenerateToken returns n cryptographically random bytes as a
// base64url string. Used for the fallback session signing secret when
// none is configured; a failing system RNG is unrecoverable at startup,
// so it panics.
func MustGenerateToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("cryptox: rng failure: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// FingerprintToken maps an arbitrary identifier to a fixed-size opaque
// key. Rate limiter buckets, TOTP replay-guard entries, and trusted
// device fingerprints are stored under fingerprints so raw user IDs and
// user agents never appear as keys.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
