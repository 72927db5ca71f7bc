package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMustGenerateToken(t *testing.T) {
	a := MustGenerateToken(TokenSize256)
	b := MustGenerateToken(TokenSize256)

	require.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	require.Len(t, raw, TokenSize256)
}

func TestFingerprintToken(t *testing.T) {
	fp := FingerprintToken("user-1|ua-hash|192.168.1")

	require.Equal(t, fp, FingerprintToken("user-1|ua-hash|192.168.1"),
		"fingerprints must be stable across calls")
	require.NotEqual(t, fp, FingerprintToken("user-2|ua-hash|192.168.1"))

	raw, err := base64.RawURLEncoding.DecodeString(fp)
	require.NoError(t, err)
	require.Len(t, raw, 32, "SHA-256 output")
}
