// Package tokenx signs and verifies self-contained payload tokens with
// HMAC-SHA256. Tokens carry a typed payload plus a purpose claim so a
// token minted for one flow can never be replayed into another.
package tokenx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed      = errors.New("tokenx: malformed token")
	ErrInvalidSig     = errors.New("tokenx: invalid signature")
	ErrExpired        = errors.New("tokenx: token expired")
	ErrWrongPurpose   = errors.New("tokenx: purpose mismatch")
	ErrEmptySecret    = errors.New("tokenx: signing secret is empty")
	ErrInvalidPayload = errors.New("tokenx: invalid payload")
)

// Purpose names the flow a token belongs to. Verification rejects tokens
// presented outside the flow they were minted for.
type Purpose string

const (
	PurposeSession           Purpose = "mfa_session"
	PurposeTrustedDevice     Purpose = "trusted_device"
	PurposePendingEnrollment Purpose = "pending_enrollment"
	PurposePasskeyCeremony   Purpose = "passkey_ceremony"
	PurposeLogin             Purpose = "login"
)

type claims[T any] struct {
	jwt.RegisteredClaims

	Purpose Purpose `json:"prp"`
	Data    T       `json:"dat"`
}

// Codec signs and verifies payload tokens under a single symmetric secret.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewCodec builds a Codec. The secret must be non-empty; issuer is stamped
// into every token and checked on verification.
func NewCodec(secret []byte, issuer string) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: secret, issuer: issuer, leeway: 30 * time.Second}, nil
}

// Sign mints a token of the given purpose carrying data, valid for ttl.
func Sign[T any](c *Codec, purpose Purpose, data T, ttl time.Duration) (string, error) {
	now := time.Now()
	cl := claims[T]{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Purpose: purpose,
		Data:    data,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("tokenx: sign: %w", err)
	}
	return signed, nil
}

// Verify validates signature, expiry, issuer, and purpose, and returns the
// embedded payload. Every failure mode returns an error; callers treat any
// error as an invalid token.
func Verify[T any](c *Codec, purpose Purpose, token string) (T, error) {
	var zero T

	cl := &claims[T]{}
	parsed, err := jwt.ParseWithClaims(token, cl, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithLeeway(c.leeway),
		jwt.WithExpirationRequired(),
	)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return zero, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return zero, ErrInvalidSig
	case err != nil:
		return zero, ErrMalformed
	case !parsed.Valid:
		return zero, ErrMalformed
	}

	if cl.Purpose != purpose {
		return zero, ErrWrongPurpose
	}
	return cl.Data, nil
}
