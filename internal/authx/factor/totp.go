package factor

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/pkg/cryptox"
)

const (
	// TOTPPeriod is the time-step duration. Codes rotate on this cadence.
	TOTPPeriod = 30 * time.Second

	// totpSkew is the accepted clock-drift window in steps on each side.
	totpSkew = 1
)

var totpValidateOpts = totp.ValidateOpts{
	Period:    uint(TOTPPeriod / time.Second),
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTOTPKey creates a fresh TOTP secret and returns the base32
// secret plus the otpauth:// provisioning URI.
func GenerateTOTPKey(issuer, account string) (secret, otpauthURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      uint(TOTPPeriod / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// VerifyTOTPCode checks code against secret across the drift window and
// returns the matched step so callers can feed the replay guard. The
// library's Validate does not expose the step, so each candidate step's
// code is generated and compared in constant time.
func VerifyTOTPCode(secret, code string, at time.Time) (step int64, ok bool) {
	baseStep := at.Unix() / int64(TOTPPeriod/time.Second)

	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		candidateStep := baseStep + offset
		stepTime := time.Unix(candidateStep*int64(TOTPPeriod/time.Second), 0)

		expected, err := totp.GenerateCodeCustom(secret, stepTime, totpValidateOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return candidateStep, true
		}
	}
	return 0, false
}

type totpProvider struct{}

// NewTOTP returns the TOTP provider. It holds no state; the sealed secret
// travels with the subject.
func NewTOTP() Provider { return totpProvider{} }

func (totpProvider) Kind() domain.FactorKind { return domain.FactorTOTP }

// Issue is a no-op: the authenticator app holds the secret; there is no
// server-initiated step.
func (totpProvider) Issue(ctx context.Context, sub Subject) (domain.ChallengeDescriptor, error) {
	if sub.State.SecretEnc == "" {
		return domain.ChallengeDescriptor{}, ErrNotEnrolled
	}
	return domain.ChallengeDescriptor{Channel: domain.FactorTOTP}, nil
}

func (totpProvider) Verify(ctx context.Context, sub Subject, resp Response) (domain.VerifyOutcome, error) {
	if sub.State.SecretEnc == "" {
		return domain.Invalid("not_enrolled"), nil
	}

	// A wrong or rotated data key must read as a bad code, never a 500.
	secret, err := cryptox.DecryptSensitiveString(sub.State.SecretEnc)
	if err != nil {
		return domain.Invalid("decrypt_failed"), nil
	}

	step, ok := VerifyTOTPCode(secret, resp.Code, time.Now())
	if !ok {
		return domain.Invalid("code_mismatch"), nil
	}

	out := domain.Valid()
	out.MatchedStep = step
	return out, nil
}
