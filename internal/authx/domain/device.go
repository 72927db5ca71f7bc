package domain

import "time"

// TrustedDevice is a client that completed a challenge and opted into
// "remember this device". Deleted en masse when MFA is disabled.
type TrustedDevice struct {
	UserID   string
	DeviceID string

	// FingerprintHash binds the device token to the requesting client:
	// SHA-256 over user id, hashed user agent, and truncated IP prefix.
	FingerprintHash string

	UAHash   string
	IPPrefix string

	CreatedAt  time.Time
	LastUsedAt time.Time
}

// OTPCode is one delivered email/whatsapp code, stored hashed.
type OTPCode struct {
	ID         string
	UserID     string
	Channel    FactorKind
	CodeHash   string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// PasskeyCredential stores one registered WebAuthn credential. The
// Credential blob is the webauthn library's credential serialized as JSON.
type PasskeyCredential struct {
	ID         string // base64url credential id
	UserID     string
	Name       string
	Credential []byte
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
