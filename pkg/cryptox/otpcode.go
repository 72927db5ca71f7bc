package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters for one-time-code hashing (backup codes, email and
// WhatsApp OTP codes). Codes are low-entropy compared to passwords, so the
// iteration count is deliberately high.
const (
	otpHashIterations = 250_000
	backupCodeLength  = 10
	otpDigits         = 6
)

// backupCodeAlphabet excludes easily-confused characters (0/O, 1/I/L).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// HashOneTimeCode derives a salted, peppered PBKDF2-SHA256 hash of a
// one-time code. The result is "salt$hash" with both parts base64url
// encoded, so the salt travels with the hash.
func HashOneTimeCode(code string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hashOneTimeCodeWithSalt(NormalizeOneTimeCode(code), salt), nil
}

func hashOneTimeCodeWithSalt(normalized string, salt []byte) string {
	hash := pbkdf2.Key([]byte(GetPepper()+normalized), salt, otpHashIterations, keyLength, sha256.New)
	return base64.RawURLEncoding.EncodeToString(salt) + "$" + base64.RawURLEncoding.EncodeToString(hash)
}

// VerifyOneTimeCode reports whether candidate matches a stored
// "salt$hash" entry. The candidate is normalized before hashing and the
// comparison runs in constant time. Malformed stored entries never match.
func VerifyOneTimeCode(candidate, stored string) bool {
	saltPart, hashPart, ok := strings.Cut(stored, "$")
	if !ok {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	expected, err := base64.RawURLEncoding.DecodeString(hashPart)
	if err != nil {
		return false
	}

	computed := pbkdf2.Key(
		[]byte(GetPepper()+NormalizeOneTimeCode(candidate)),
		salt,
		otpHashIterations,
		keyLength,
		sha256.New,
	)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// NormalizeOneTimeCode strips everything except letters and digits and
// uppercases the rest, so "abcd-1234" and "ABCD 1234" verify identically.
func NormalizeOneTimeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GenerateBackupCode returns a random code from the backup-code alphabet.
func GenerateBackupCode() (string, error) {
	code := make([]byte, backupCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate backup code: %w", err)
		}
		code[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// GenerateNumericCode returns a random n-digit code for OTP delivery
// channels (email, WhatsApp).
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		digits = otpDigits
	}
	code := make([]byte, digits)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
