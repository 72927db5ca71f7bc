package cryptox

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSensitiveString(t *testing.T) {
	ResetDataKeyForTesting()
	t.Setenv("AUTHX_DATA_KEY", "test-data-key")
	t.Cleanup(ResetDataKeyForTesting)

	plaintext := "JBSWY3DPEHPK3PXP"

	sealed, err := EncryptSensitiveString(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	got, err := DecryptSensitiveString(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEncryptSensitiveString_UniqueNonces(t *testing.T) {
	ResetDataKeyForTesting()
	t.Setenv("AUTHX_DATA_KEY", "test-data-key")
	t.Cleanup(ResetDataKeyForTesting)

	a, err := EncryptSensitiveString("same plaintext")
	require.NoError(t, err)
	b, err := EncryptSensitiveString("same plaintext")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "each seal should use a fresh nonce")
}

func TestDecryptSensitiveString_Tampered(t *testing.T) {
	ResetDataKeyForTesting()
	t.Setenv("AUTHX_DATA_KEY", "test-data-key")
	t.Cleanup(ResetDataKeyForTesting)

	sealed, err := EncryptSensitiveString("secret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		sealed string
	}{
		{"flipped byte", "A" + sealed[1:]},
		{"truncated", sealed[:8]},
		{"not base64", "%%%not-base64%%%"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptSensitiveString(tt.sealed)
			require.Error(t, err)
		})
	}
}

func TestEphemeralDataKeyWarnsAtStartup(t *testing.T) {
	ResetDataKeyForTesting()
	SetDataKeyPath("")
	t.Setenv("AUTHX_DATA_KEY", "")
	t.Cleanup(ResetDataKeyForTesting)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	sealed, err := EncryptSensitiveString("secret")
	require.NoError(t, err)
	got, err := DecryptSensitiveString(sealed)
	require.NoError(t, err)
	require.Equal(t, "secret", got)

	require.Contains(t, buf.String(), "ephemeral key",
		"falling back to a throwaway key should be loud")
}

func TestDecryptSensitiveString_WrongKey(t *testing.T) {
	ResetDataKeyForTesting()
	t.Setenv("AUTHX_DATA_KEY", "key-one")
	t.Cleanup(ResetDataKeyForTesting)

	sealed, err := EncryptSensitiveString("secret")
	require.NoError(t, err)

	ResetDataKeyForTesting()
	t.Setenv("AUTHX_DATA_KEY", "key-two")

	_, err = DecryptSensitiveString(sealed)
	require.Error(t, err, "seals from one key must not open under another")
}
