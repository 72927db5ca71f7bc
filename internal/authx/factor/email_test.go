package factor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store/drivers/sqlite"
	"github.com/ibimina/authx/pkg/cryptox"
)

// captureMailer records the last code it was asked to deliver.
type captureMailer struct {
	email string
	code  string
}

func (m *captureMailer) SendCode(ctx context.Context, email, code string) error {
	m.email = email
	m.code = code
	return nil
}

func TestEmailProvider(t *testing.T) {
	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	ctx := context.Background()
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	mailer := &captureMailer{}
	provider := NewEmail(mailer, st.OTPCodes())

	sub := Subject{
		UserID: "user-1",
		Email:  "alice@example.com",
		State:  domain.UserMFAState{UserID: "user-1", Enabled: true},
	}

	t.Run("issue delivers a code and stores only its hash", func(t *testing.T) {
		desc, err := provider.Issue(ctx, sub)
		require.NoError(t, err)
		require.Equal(t, domain.FactorEmail, desc.Channel)
		require.NotNil(t, desc.ExpiresAt)

		require.Equal(t, "alice@example.com", mailer.email)
		require.Len(t, mailer.code, 6)

		stored, err := st.OTPCodes().LatestActive(ctx, "user-1", domain.FactorEmail)
		require.NoError(t, err)
		require.NotEqual(t, mailer.code, stored.CodeHash)
	})

	t.Run("verify consumes the delivered code", func(t *testing.T) {
		out, err := provider.Verify(ctx, sub, Response{Code: mailer.code})
		require.NoError(t, err)
		require.True(t, out.OK)
	})

	t.Run("a consumed code never verifies again", func(t *testing.T) {
		out, err := provider.Verify(ctx, sub, Response{Code: mailer.code})
		require.NoError(t, err)
		require.False(t, out.OK)
		require.Equal(t, "no_active_code", out.Reason)
	})

	t.Run("wrong code is invalid", func(t *testing.T) {
		_, err := provider.Issue(ctx, sub)
		require.NoError(t, err)

		out, err := provider.Verify(ctx, sub, Response{Code: "000000"})
		require.NoError(t, err)
		require.False(t, out.OK)
		require.Equal(t, "code_mismatch", out.Reason)
	})

	t.Run("reissue supersedes the previous code", func(t *testing.T) {
		_, err := provider.Issue(ctx, sub)
		require.NoError(t, err)
		first := mailer.code

		_, err = provider.Issue(ctx, sub)
		require.NoError(t, err)
		second := mailer.code

		if first != second {
			out, err := provider.Verify(ctx, sub, Response{Code: first})
			require.NoError(t, err)
			require.False(t, out.OK)
		}

		out, err := provider.Verify(ctx, sub, Response{Code: second})
		require.NoError(t, err)
		require.True(t, out.OK)
	})

	t.Run("nil mailer marks the channel unavailable", func(t *testing.T) {
		unavailable := NewEmail(nil, st.OTPCodes())

		_, err := unavailable.Issue(ctx, sub)
		require.ErrorIs(t, err, ErrChannelUnavailable)
	})

	t.Run("missing address reads as not enrolled", func(t *testing.T) {
		_, err := provider.Issue(ctx, Subject{UserID: "user-2"})
		require.ErrorIs(t, err, ErrNotEnrolled)
	})
}
