// Package factor implements one provider per supported second factor
// behind a common interface. The orchestrator holds a map from factor kind
// to provider, resolved at startup.
package factor

import (
	"context"
	"errors"

	"github.com/ibimina/authx/internal/authx/domain"
)

var (
	// ErrChannelUnavailable reports a factor whose delivery transport is
	// administratively unconfigured. The factor stays in the enum and the
	// channels summary; it is never silently omitted.
	ErrChannelUnavailable = errors.New("factor: channel unavailable")

	// ErrNotEnrolled reports a factor the user has no material for.
	ErrNotEnrolled = errors.New("factor: not enrolled")
)

// Subject is the user a challenge is issued to or verified for, together
// with their current MFA state.
type Subject struct {
	UserID string
	Email  string
	State  domain.UserMFAState
}

// Response is the client's answer to a challenge. Code carries OTP-style
// inputs; Assertion and StateToken carry the WebAuthn ceremony.
type Response struct {
	Code       string
	Assertion  []byte
	StateToken string
}

// Provider issues and verifies challenges for one factor kind.
//
// Verify returns a VerifyOutcome value for everything that should read as
// "invalid code" to the caller; the error return is reserved for
// infrastructure failures (store unreachable) that surface as 500s.
type Provider interface {
	Kind() domain.FactorKind
	Issue(ctx context.Context, sub Subject) (domain.ChallengeDescriptor, error)
	Verify(ctx context.Context, sub Subject, resp Response) (domain.VerifyOutcome, error)
}
