package domain

import (
	"errors"
	"fmt"
)

// FactorKind identifies one of the supported second factors. The set is
// closed; providers are resolved from it at startup.
type FactorKind string

const (
	FactorTOTP     FactorKind = "totp"
	FactorEmail    FactorKind = "email"
	FactorWhatsApp FactorKind = "whatsapp"
	FactorBackup   FactorKind = "backup"
	FactorPasskey  FactorKind = "passkey"
)

var ErrUnknownFactor = errors.New("domain: unknown factor")

// AllFactorKinds returns the closed factor set in canonical order.
func AllFactorKinds() []FactorKind {
	return []FactorKind{FactorTOTP, FactorEmail, FactorWhatsApp, FactorBackup, FactorPasskey}
}

// ParseFactorKind validates a client-supplied factor name.
func ParseFactorKind(s string) (FactorKind, error) {
	switch FactorKind(s) {
	case FactorTOTP, FactorEmail, FactorWhatsApp, FactorBackup, FactorPasskey:
		return FactorKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFactor, s)
	}
}

func (k FactorKind) String() string { return string(k) }
