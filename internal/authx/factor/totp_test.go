package factor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/pkg/cryptox"
)

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totpValidateOpts)
	require.NoError(t, err)
	return code
}

func TestGenerateTOTPKey(t *testing.T) {
	secret, uri, err := GenerateTOTPKey("authx-test", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.Contains(t, uri, "otpauth://totp/")
	require.Contains(t, uri, "authx-test")
}

func TestVerifyTOTPCode(t *testing.T) {
	secret, _, err := GenerateTOTPKey("authx-test", "alice@example.com")
	require.NoError(t, err)

	now := time.Now()
	baseStep := now.Unix() / int64(TOTPPeriod/time.Second)

	t.Run("current step matches", func(t *testing.T) {
		step, ok := VerifyTOTPCode(secret, codeAt(t, secret, now), now)
		require.True(t, ok)
		require.Equal(t, baseStep, step)
	})

	t.Run("adjacent steps match within skew", func(t *testing.T) {
		step, ok := VerifyTOTPCode(secret, codeAt(t, secret, now.Add(-TOTPPeriod)), now)
		require.True(t, ok)
		require.Equal(t, baseStep-1, step)

		step, ok = VerifyTOTPCode(secret, codeAt(t, secret, now.Add(TOTPPeriod)), now)
		require.True(t, ok)
		require.Equal(t, baseStep+1, step)
	})

	t.Run("steps outside the skew are rejected", func(t *testing.T) {
		_, ok := VerifyTOTPCode(secret, codeAt(t, secret, now.Add(2*TOTPPeriod)), now)
		require.False(t, ok)
	})

	t.Run("wrong code is rejected", func(t *testing.T) {
		_, ok := VerifyTOTPCode(secret, "000000", now)
		require.False(t, ok)
	})
}

func TestTOTPProviderVerify(t *testing.T) {
	t.Setenv("AUTHX_DATA_KEY", "totp-provider-test-key")
	cryptox.ResetDataKeyForTesting()
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	secret, _, err := GenerateTOTPKey("authx-test", "alice@example.com")
	require.NoError(t, err)
	sealed, err := cryptox.EncryptSensitiveString(secret)
	require.NoError(t, err)

	provider := NewTOTP()
	ctx := context.Background()

	sub := Subject{
		UserID: "user-1",
		State:  domain.UserMFAState{UserID: "user-1", Enabled: true, SecretEnc: sealed, LastVerifiedStep: -1},
	}

	t.Run("valid code reports its step", func(t *testing.T) {
		out, err := provider.Verify(ctx, sub, Response{Code: codeAt(t, secret, time.Now())})
		require.NoError(t, err)
		require.True(t, out.OK)
		require.Positive(t, out.MatchedStep)
	})

	t.Run("wrong code is invalid", func(t *testing.T) {
		out, err := provider.Verify(ctx, sub, Response{Code: "000000"})
		require.NoError(t, err)
		require.False(t, out.OK)
		require.Equal(t, "code_mismatch", out.Reason)
	})

	t.Run("undecryptable secret reads as invalid code", func(t *testing.T) {
		bad := sub
		bad.State.SecretEnc = "not-a-sealed-secret"

		out, err := provider.Verify(ctx, bad, Response{Code: codeAt(t, secret, time.Now())})
		require.NoError(t, err)
		require.False(t, out.OK)
		require.Equal(t, "decrypt_failed", out.Reason)
	})

	t.Run("missing secret reads as not enrolled", func(t *testing.T) {
		bare := Subject{UserID: "user-2"}
		out, err := provider.Verify(ctx, bare, Response{Code: "123456"})
		require.NoError(t, err)
		require.False(t, out.OK)
		require.Equal(t, "not_enrolled", out.Reason)
	})
}
