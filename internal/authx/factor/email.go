package factor

import (
	"context"
	"errors"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/cryptox"
	"github.com/ibimina/authx/pkg/idx"
)

// OTPCodeTTL is how long a delivered email/whatsapp code stays redeemable.
const OTPCodeTTL = 10 * time.Minute

// Mailer delivers a one-time code to an email address. Implementations
// must bound their own request timeout.
type Mailer interface {
	SendCode(ctx context.Context, email, code string) error
}

type emailProvider struct {
	mailer Mailer
	codes  store.OTPCodes
}

// NewEmail returns the email OTP provider. A nil mailer marks the channel
// administratively unavailable.
func NewEmail(mailer Mailer, codes store.OTPCodes) Provider {
	return &emailProvider{mailer: mailer, codes: codes}
}

func (*emailProvider) Kind() domain.FactorKind { return domain.FactorEmail }

func (p *emailProvider) Issue(ctx context.Context, sub Subject) (domain.ChallengeDescriptor, error) {
	if p.mailer == nil {
		return domain.ChallengeDescriptor{}, ErrChannelUnavailable
	}
	if sub.Email == "" {
		return domain.ChallengeDescriptor{}, ErrNotEnrolled
	}

	code, err := cryptox.GenerateNumericCode(0)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}
	hash, err := cryptox.HashOneTimeCode(code)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	expiresAt := time.Now().UTC().Add(OTPCodeTTL)
	if err := p.codes.Create(ctx, domain.OTPCode{
		ID:        idx.New().String(),
		UserID:    sub.UserID,
		Channel:   domain.FactorEmail,
		CodeHash:  hash,
		ExpiresAt: expiresAt,
	}); err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	if err := p.mailer.SendCode(ctx, sub.Email, code); err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	return domain.ChallengeDescriptor{Channel: domain.FactorEmail, ExpiresAt: &expiresAt}, nil
}

func (p *emailProvider) Verify(ctx context.Context, sub Subject, resp Response) (domain.VerifyOutcome, error) {
	return verifyDeliveredCode(ctx, p.codes, sub.UserID, domain.FactorEmail, resp.Code)
}

// verifyDeliveredCode redeems the newest active stored code for a channel.
// Shared by the email and whatsapp providers.
func verifyDeliveredCode(ctx context.Context, codes store.OTPCodes, userID string, channel domain.FactorKind, candidate string) (domain.VerifyOutcome, error) {
	active, err := codes.LatestActive(ctx, userID, channel)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Invalid("no_active_code"), nil
	}
	if err != nil {
		return domain.VerifyOutcome{}, err
	}

	if !cryptox.VerifyOneTimeCode(candidate, active.CodeHash) {
		return domain.Invalid("code_mismatch"), nil
	}

	// Consumption is conditional; a concurrent redemption wins at most once.
	if err := codes.Consume(ctx, active.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Invalid("already_consumed"), nil
		}
		return domain.VerifyOutcome{}, err
	}

	return domain.Valid(), nil
}
