package domain

import "time"

// Audit actions emitted by the orchestrator. Append-only; never mutated.
const (
	AuditEnrollmentStarted = "MFA_ENROLLMENT_STARTED"
	AuditEnrolled          = "MFA_ENROLLED"
	AuditRateLimited       = "MFA_RATE_LIMITED"
	AuditFailed            = "MFA_FAILED"
	AuditPasskeyFailed     = "MFA_PASSKEY_FAILED"
	AuditSuccess           = "MFA_SUCCESS"
	AuditBackupSuccess     = "MFA_BACKUP_SUCCESS"
	AuditPasskeySuccess    = "MFA_PASSKEY_SUCCESS"
	AuditDisabled          = "MFA_DISABLED"
	AuditDisableFailed     = "MFA_DISABLE_FAILED"
	AuditDeviceTrusted     = "MFA_DEVICE_TRUSTED"
	AuditDeviceRevoked     = "MFA_DEVICE_REVOKED"
)

// AuditEvent is one append-only audit row.
type AuditEvent struct {
	ID        string
	Action    string
	UserID    string
	Metadata  map[string]any
	CreatedAt time.Time
}
