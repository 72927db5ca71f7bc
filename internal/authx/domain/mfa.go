package domain

import "time"

// UserMFAState is the per-user MFA record. Created on first enrollment,
// mutated by every enroll/verify/disable, never hard-deleted; disabling
// resets it to the no-factors state.
type UserMFAState struct {
	UserID string

	Enabled   bool
	EnabledAt *time.Time

	// SecretEnc is the AES-GCM sealed TOTP secret, empty until enrolled.
	SecretEnc string

	// BackupHashes are salted one-time-code hashes, consumed one at a time.
	// Replacement is conditional on the previous list (see store.MFAStates).
	BackupHashes []string

	// Methods the user has verified at least once.
	Methods []FactorKind

	// WhatsAppMSISDN is the delivery number for the whatsapp channel,
	// E.164, empty when not set up.
	WhatsAppMSISDN string

	FailedCount int

	// LastVerifiedStep is the TOTP anti-replay cursor. Steps at or below
	// it never verify again. -1 means no step consumed yet.
	LastVerifiedStep int64

	LastSuccessAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasMethod reports whether the given factor is in the enrolled set.
func (s UserMFAState) HasMethod(k FactorKind) bool {
	for _, m := range s.Methods {
		if m == k {
			return true
		}
	}
	return false
}

// WithMethod returns the methods list with k added if absent.
func (s UserMFAState) WithMethod(k FactorKind) []FactorKind {
	if s.HasMethod(k) {
		return s.Methods
	}
	return append(append([]FactorKind{}, s.Methods...), k)
}

// VerifyOutcome is the result of a factor verification. Verify routines
// return it as a value so failure reasons cannot escape to the client;
// Reason is recorded in the audit trail only.
type VerifyOutcome struct {
	OK bool

	// MatchedStep is the TOTP step that matched, fed to the replay guard.
	// Only meaningful for the totp factor when OK.
	MatchedStep int64

	UsedBackup bool

	// Reason is the audit-only sub-reason on failure, e.g. "code_mismatch",
	// "decrypt_failed", "replayed_step", "expired".
	Reason string
}

func Invalid(reason string) VerifyOutcome { return VerifyOutcome{Reason: reason} }

func Valid() VerifyOutcome { return VerifyOutcome{OK: true} }

// ChallengeDescriptor describes a server-initiated challenge back to the
// client. TOTP and backup need no server step and return a bare channel.
type ChallengeDescriptor struct {
	Channel FactorKind `json:"channel"`

	// ExpiresAt is set for delivered codes (email, whatsapp).
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	// Options carries WebAuthn request options JSON for the passkey factor.
	Options any `json:"options,omitempty"`

	// StateToken binds a passkey verification to this initiation.
	StateToken string `json:"stateToken,omitempty"`
}

// ChannelsSummary is the read-only enrollment summary.
type ChannelsSummary struct {
	Preferred FactorKind          `json:"preferred"`
	Enrolled  map[FactorKind]bool `json:"enrolled"`

	// WhatsAppAvailable is false when the factor is enrolled but the
	// transport is administratively unconfigured.
	WhatsAppAvailable bool `json:"whatsappAvailable"`

	BackupRemaining int `json:"backupRemaining"`
}

// EnrollmentStart is returned by StartEnrollment.
type EnrollmentStart struct {
	OtpauthURI    string `json:"otpauthUri"`
	SecretPreview string `json:"secretPreview"`
	PendingToken  string `json:"pendingToken"`
}
