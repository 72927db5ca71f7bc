package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashOneTimeCode_RoundTrip(t *testing.T) {
	SetPepperPath(t.TempDir() + "/pepper")

	stored, err := HashOneTimeCode("ABCD-1234-EF")
	require.NoError(t, err)
	require.Contains(t, stored, "$", "stored hash should carry its salt")

	require.True(t, VerifyOneTimeCode("ABCD-1234-EF", stored))
	require.True(t, VerifyOneTimeCode("abcd 1234 ef", stored), "verification should normalize input")
	require.False(t, VerifyOneTimeCode("ABCD-1234-EG", stored))
}

func TestHashOneTimeCode_UniqueSalts(t *testing.T) {
	SetPepperPath(t.TempDir() + "/pepper")

	a, err := HashOneTimeCode("123456")
	require.NoError(t, err)
	b, err := HashOneTimeCode("123456")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "same code should hash differently under fresh salts")

	require.True(t, VerifyOneTimeCode("123456", a))
	require.True(t, VerifyOneTimeCode("123456", b))
}

func TestVerifyOneTimeCode_MalformedStored(t *testing.T) {
	SetPepperPath(t.TempDir() + "/pepper")

	tests := []struct {
		name   string
		stored string
	}{
		{"empty", ""},
		{"no separator", "deadbeef"},
		{"bad salt encoding", "not!base64$aGVsbG8"},
		{"bad hash encoding", "aGVsbG8$not!base64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, VerifyOneTimeCode("123456", tt.stored))
		})
	}
}

func TestNormalizeOneTimeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abcd-1234", "ABCD1234"},
		{"  AB cd 12 ", "ABCD12"},
		{"a_b-c.d", "ABCD"},
		{"", ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeOneTimeCode(tt.in))
	}
}

func TestGenerateBackupCode(t *testing.T) {
	code, err := GenerateBackupCode()
	require.NoError(t, err)
	require.Len(t, code, backupCodeLength)

	for _, r := range code {
		require.True(t, strings.ContainsRune(backupCodeAlphabet, r),
			"code %q contains character outside alphabet", code)
	}
}

func TestGenerateNumericCode(t *testing.T) {
	t.Run("requested length", func(t *testing.T) {
		code, err := GenerateNumericCode(8)
		require.NoError(t, err)
		require.Len(t, code, 8)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9')
		}
	})

	t.Run("defaults when non-positive", func(t *testing.T) {
		code, err := GenerateNumericCode(0)
		require.NoError(t, err)
		require.Len(t, code, otpDigits)
	})
}
