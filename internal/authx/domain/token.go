package domain

import "encoding/json"

// Payloads embedded in signed self-contained tokens (pkg/tokenx). Each is
// scoped to a single token purpose; the codec rejects cross-purpose use.

// SessionPayload is the short-lived post-MFA session.
type SessionPayload struct {
	UserID string   `json:"uid"`
	AMR    []string `json:"amr,omitempty"`
}

// TrustedDevicePayload is the long-lived remember-this-device token. The
// device row and fingerprint are checked against the store on use.
type TrustedDevicePayload struct {
	UserID   string `json:"uid"`
	DeviceID string `json:"did"`
}

// PendingEnrollmentPayload carries the candidate TOTP secret between
// enroll/start and enroll/confirm. The secret is AES-GCM sealed so the
// token is tamper-evident and non-disclosing; no server-side row exists.
type PendingEnrollmentPayload struct {
	UserID    string `json:"uid"`
	SecretEnc string `json:"sec"`
}

// PasskeyStatePayload binds a WebAuthn ceremony to its initiation. Session
// is the webauthn library's SessionData serialized as JSON.
type PasskeyStatePayload struct {
	UserID  string          `json:"uid"`
	Session json.RawMessage `json:"ses"`
}
