package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIPPrefix(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"ipv4 truncates to /24", "203.0.113.47", "203.0.113.0/24"},
		{"ipv4 same subnet collapses", "203.0.113.200", "203.0.113.0/24"},
		{"ipv6 truncates to /64", "2001:db8:1:2:3:4:5:6", "2001:db8:1:2::/64"},
		{"whitespace is tolerated", " 203.0.113.47 ", "203.0.113.0/24"},
		{"garbage maps to empty", "not-an-ip", ""},
		{"empty maps to empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ipPrefix(tt.ip))
		})
	}
}

func TestDeviceFingerprint(t *testing.T) {
	a := deviceFingerprint("user-1", hashUserAgent("agent"), "203.0.113.0/24")

	t.Run("deterministic", func(t *testing.T) {
		require.Equal(t, a, deviceFingerprint("user-1", hashUserAgent("agent"), "203.0.113.0/24"))
	})

	t.Run("sensitive to each input", func(t *testing.T) {
		require.NotEqual(t, a, deviceFingerprint("user-2", hashUserAgent("agent"), "203.0.113.0/24"))
		require.NotEqual(t, a, deviceFingerprint("user-1", hashUserAgent("other"), "203.0.113.0/24"))
		require.NotEqual(t, a, deviceFingerprint("user-1", hashUserAgent("agent"), "198.51.100.0/24"))
	})

	t.Run("raw inputs never appear", func(t *testing.T) {
		require.NotContains(t, a, "user-1")
		require.NotContains(t, a, "agent")
	})
}
