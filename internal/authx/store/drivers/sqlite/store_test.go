package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/idx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func TestMFAStates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	states := st.MFAStates()

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := states.Get(ctx, "nobody")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	enabledAt := time.Now().UTC().Truncate(time.Second)
	state := domain.UserMFAState{
		UserID:           "user-1",
		Enabled:          true,
		EnabledAt:        &enabledAt,
		SecretEnc:        "sealed-secret",
		BackupHashes:     []string{"h1", "h2", "h3"},
		Methods:          []domain.FactorKind{domain.FactorTOTP, domain.FactorBackup},
		WhatsAppMSISDN:   "+61400000000",
		LastVerifiedStep: 42,
	}

	t.Run("upsert and get round trip", func(t *testing.T) {
		require.NoError(t, states.Upsert(ctx, state))

		got, err := states.Get(ctx, "user-1")
		require.NoError(t, err)
		require.True(t, got.Enabled)
		require.NotNil(t, got.EnabledAt)
		require.Equal(t, "sealed-secret", got.SecretEnc)
		require.Equal(t, []string{"h1", "h2", "h3"}, got.BackupHashes)
		require.Equal(t, []domain.FactorKind{domain.FactorTOTP, domain.FactorBackup}, got.Methods)
		require.Equal(t, "+61400000000", got.WhatsAppMSISDN)
		require.EqualValues(t, 42, got.LastVerifiedStep)
	})

	t.Run("upsert updates existing row", func(t *testing.T) {
		state.LastVerifiedStep = 43
		require.NoError(t, states.Upsert(ctx, state))

		got, err := states.Get(ctx, "user-1")
		require.NoError(t, err)
		require.EqualValues(t, 43, got.LastVerifiedStep)
	})

	t.Run("replace backup hashes succeeds when prev matches", func(t *testing.T) {
		err := states.ReplaceBackupHashes(ctx, "user-1", []string{"h1", "h2", "h3"}, []string{"h1", "h3"})
		require.NoError(t, err)

		got, err := states.Get(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, []string{"h1", "h3"}, got.BackupHashes)
	})

	t.Run("replace backup hashes conflicts when prev is stale", func(t *testing.T) {
		err := states.ReplaceBackupHashes(ctx, "user-1", []string{"h1", "h2", "h3"}, []string{"h1"})
		require.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("increment failed count", func(t *testing.T) {
		require.NoError(t, states.IncrementFailedCount(ctx, "user-1"))
		require.NoError(t, states.IncrementFailedCount(ctx, "user-1"))

		got, err := states.Get(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, 2, got.FailedCount)
	})

	t.Run("record verify success touches only its own fields", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		err := states.RecordVerifySuccess(ctx, "user-1", at,
			[]domain.FactorKind{domain.FactorTOTP, domain.FactorBackup, domain.FactorEmail}, 50)
		require.NoError(t, err)

		got, err := states.Get(ctx, "user-1")
		require.NoError(t, err)
		require.Zero(t, got.FailedCount)
		require.NotNil(t, got.LastSuccessAt)
		require.EqualValues(t, 50, got.LastVerifiedStep)
		require.True(t, got.HasMethod(domain.FactorEmail))
		require.Equal(t, []string{"h1", "h3"}, got.BackupHashes)
		require.Equal(t, "sealed-secret", got.SecretEnc)
	})

	t.Run("record verify success never regresses the step cursor", func(t *testing.T) {
		err := states.RecordVerifySuccess(ctx, "user-1", time.Now().UTC(),
			[]domain.FactorKind{domain.FactorTOTP}, -1)
		require.NoError(t, err)

		got, err := states.Get(ctx, "user-1")
		require.NoError(t, err)
		require.EqualValues(t, 50, got.LastVerifiedStep)
	})

	t.Run("reset keeps the row but clears factors", func(t *testing.T) {
		require.NoError(t, states.Reset(ctx, "user-1"))

		got, err := states.Get(ctx, "user-1")
		require.NoError(t, err)
		require.False(t, got.Enabled)
		require.Nil(t, got.EnabledAt)
		require.Empty(t, got.SecretEnc)
		require.Empty(t, got.BackupHashes)
		require.Empty(t, got.Methods)
		require.EqualValues(t, -1, got.LastVerifiedStep)
	})

	t.Run("reset missing row returns not found", func(t *testing.T) {
		require.ErrorIs(t, states.Reset(ctx, "nobody"), store.ErrNotFound)
	})

	t.Run("record verify success conflicts once disabled", func(t *testing.T) {
		err := states.RecordVerifySuccess(ctx, "user-1", time.Now().UTC(),
			[]domain.FactorKind{domain.FactorTOTP}, 1)
		require.ErrorIs(t, err, store.ErrConflict)
	})
}

func TestOTPCodes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	codes := st.OTPCodes()

	t.Run("latest active with none returns not found", func(t *testing.T) {
		_, err := codes.LatestActive(ctx, "user-1", domain.FactorEmail)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	first := domain.OTPCode{
		ID:        idx.New().String(),
		UserID:    "user-1",
		Channel:   domain.FactorEmail,
		CodeHash:  "hash-1",
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}
	require.NoError(t, codes.Create(ctx, first))

	second := domain.OTPCode{
		ID:        idx.New().String(),
		UserID:    "user-1",
		Channel:   domain.FactorEmail,
		CodeHash:  "hash-2",
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}
	require.NoError(t, codes.Create(ctx, second))

	t.Run("latest active returns the newest code", func(t *testing.T) {
		got, err := codes.LatestActive(ctx, "user-1", domain.FactorEmail)
		require.NoError(t, err)
		require.Equal(t, second.ID, got.ID)
	})

	t.Run("latest active filters by channel", func(t *testing.T) {
		_, err := codes.LatestActive(ctx, "user-1", domain.FactorWhatsApp)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("consume is single use", func(t *testing.T) {
		require.NoError(t, codes.Consume(ctx, second.ID))
		require.ErrorIs(t, codes.Consume(ctx, second.ID), store.ErrConflict)
	})

	t.Run("consumed codes drop out of latest active", func(t *testing.T) {
		got, err := codes.LatestActive(ctx, "user-1", domain.FactorEmail)
		require.NoError(t, err)
		require.Equal(t, first.ID, got.ID)
	})

	t.Run("expired codes drop out of latest active", func(t *testing.T) {
		expired := domain.OTPCode{
			ID:        idx.New().String(),
			UserID:    "user-2",
			Channel:   domain.FactorEmail,
			CodeHash:  "hash-3",
			ExpiresAt: time.Now().UTC().Add(-1 * time.Minute),
		}
		require.NoError(t, codes.Create(ctx, expired))

		_, err := codes.LatestActive(ctx, "user-2", domain.FactorEmail)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		require.NoError(t, codes.DeleteExpired(ctx))

		// The unexpired, unconsumed code survives.
		got, err := codes.LatestActive(ctx, "user-1", domain.FactorEmail)
		require.NoError(t, err)
		require.Equal(t, first.ID, got.ID)
	})
}

func TestRateLimits(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	limits := st.RateLimits()

	t.Run("hits accumulate within a window", func(t *testing.T) {
		for want := 1; want <= 3; want++ {
			hits, _, err := limits.Consume(ctx, "key-1", time.Minute)
			require.NoError(t, err)
			require.Equal(t, want, hits)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		hits, _, err := limits.Consume(ctx, "key-2", time.Minute)
		require.NoError(t, err)
		require.Equal(t, 1, hits)
	})

	t.Run("window start is stable within the window", func(t *testing.T) {
		_, start1, err := limits.Consume(ctx, "key-3", time.Minute)
		require.NoError(t, err)
		_, start2, err := limits.Consume(ctx, "key-3", time.Minute)
		require.NoError(t, err)
		require.Equal(t, start1, start2)
	})

	t.Run("an elapsed window resets the count", func(t *testing.T) {
		hits, _, err := limits.Consume(ctx, "key-4", 0)
		require.NoError(t, err)
		require.Equal(t, 1, hits)

		// Zero-length window: the next hit always starts a fresh window.
		time.Sleep(1100 * time.Millisecond)
		hits, _, err = limits.Consume(ctx, "key-4", time.Second)
		require.NoError(t, err)
		require.Equal(t, 1, hits)
	})

	t.Run("delete stale", func(t *testing.T) {
		require.NoError(t, limits.DeleteStale(ctx, time.Now().UTC().Add(time.Hour)))

		hits, _, err := limits.Consume(ctx, "key-1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, 1, hits)
	})
}

func TestTrustedDevices(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	devices := st.TrustedDevices()

	device := domain.TrustedDevice{
		UserID:          "user-1",
		DeviceID:        "device-1",
		FingerprintHash: "fp-1",
		UAHash:          "ua-1",
		IPPrefix:        "203.0.113.0/24",
	}
	require.NoError(t, devices.Create(ctx, device))

	t.Run("get round trip", func(t *testing.T) {
		got, err := devices.Get(ctx, "user-1", "device-1")
		require.NoError(t, err)
		require.Equal(t, "fp-1", got.FingerprintHash)
		require.Equal(t, "203.0.113.0/24", got.IPPrefix)
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := devices.Get(ctx, "user-1", "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("touch last used", func(t *testing.T) {
		at := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
		require.NoError(t, devices.TouchLastUsed(ctx, "user-1", "device-1", at))

		got, err := devices.Get(ctx, "user-1", "device-1")
		require.NoError(t, err)
		require.WithinDuration(t, at, got.LastUsedAt, time.Second)
	})

	t.Run("list by user", func(t *testing.T) {
		require.NoError(t, devices.Create(ctx, domain.TrustedDevice{
			UserID: "user-1", DeviceID: "device-2", FingerprintHash: "fp-2",
		}))

		list, err := devices.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 2)
	})

	t.Run("delete one", func(t *testing.T) {
		require.NoError(t, devices.Delete(ctx, "user-1", "device-2"))

		_, err := devices.Get(ctx, "user-1", "device-2")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete idle", func(t *testing.T) {
		// device-1 was touched an hour into the future, so a cutoff of now
		// leaves it alone.
		require.NoError(t, devices.DeleteIdle(ctx, time.Now().UTC()))
		_, err := devices.Get(ctx, "user-1", "device-1")
		require.NoError(t, err)

		require.NoError(t, devices.DeleteIdle(ctx, time.Now().UTC().Add(2*time.Hour)))
		_, err = devices.Get(ctx, "user-1", "device-1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete all for user", func(t *testing.T) {
		require.NoError(t, devices.Create(ctx, domain.TrustedDevice{UserID: "user-2", DeviceID: "a", FingerprintHash: "f"}))
		require.NoError(t, devices.Create(ctx, domain.TrustedDevice{UserID: "user-2", DeviceID: "b", FingerprintHash: "f"}))

		require.NoError(t, devices.DeleteAllForUser(ctx, "user-2"))

		list, err := devices.ListByUser(ctx, "user-2")
		require.NoError(t, err)
		require.Empty(t, list)
	})
}

func TestAuditEvents(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	events := st.AuditEvents()

	for i, action := range []string{domain.AuditEnrollmentStarted, domain.AuditEnrolled, domain.AuditSuccess} {
		require.NoError(t, events.Append(ctx, domain.AuditEvent{
			ID:       idx.New().String(),
			Action:   action,
			UserID:   "user-1",
			Metadata: map[string]any{"seq": i},
		}))
	}

	t.Run("list newest first", func(t *testing.T) {
		list, err := events.ListByUser(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, domain.AuditSuccess, list[0].Action)
		require.Equal(t, domain.AuditEnrollmentStarted, list[2].Action)
	})

	t.Run("limit applies", func(t *testing.T) {
		list, err := events.ListByUser(ctx, "user-1", 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("metadata round trips", func(t *testing.T) {
		list, err := events.ListByUser(ctx, "user-1", 1)
		require.NoError(t, err)
		require.EqualValues(t, 2, list[0].Metadata["seq"])
	})
}

func TestPasskeyCredentials(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	creds := st.PasskeyCredentials()

	cred := domain.PasskeyCredential{
		ID:         "cred-1",
		UserID:     "user-1",
		Name:       "laptop",
		Credential: []byte(`{"id":"abc"}`),
	}
	require.NoError(t, creds.Create(ctx, cred))

	t.Run("list by user", func(t *testing.T) {
		list, err := creds.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "laptop", list[0].Name)
		require.JSONEq(t, `{"id":"abc"}`, string(list[0].Credential))
	})

	t.Run("update rewrites the blob", func(t *testing.T) {
		cred.Credential = []byte(`{"id":"abc","signCount":7}`)
		require.NoError(t, creds.Update(ctx, cred))

		list, err := creds.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.JSONEq(t, `{"id":"abc","signCount":7}`, string(list[0].Credential))
		require.NotNil(t, list[0].LastUsedAt)
	})

	t.Run("delete all for user", func(t *testing.T) {
		require.NoError(t, creds.DeleteAllForUser(ctx, "user-1"))

		list, err := creds.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Empty(t, list)
	})
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	t.Run("commit persists", func(t *testing.T) {
		err := st.WithTx(ctx, func(tx store.Tx) error {
			return tx.MFAStates().Upsert(ctx, domain.UserMFAState{UserID: "tx-user", LastVerifiedStep: -1})
		})
		require.NoError(t, err)

		_, err = st.MFAStates().Get(ctx, "tx-user")
		require.NoError(t, err)
	})

	t.Run("error rolls back", func(t *testing.T) {
		sentinel := store.ErrConflict
		err := st.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.MFAStates().Upsert(ctx, domain.UserMFAState{UserID: "rollback-user", LastVerifiedStep: -1}); err != nil {
				return err
			}
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)

		_, err = st.MFAStates().Get(ctx, "rollback-user")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
