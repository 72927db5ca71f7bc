package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	dataKeyOnce sync.Once
	dataKey     []byte
	dataKeyPath string // Can be set via SetDataKeyPath before first use
)

// SetDataKeyPath configures where to load the symmetric data key from.
// Must be called before any seal/unseal operation. If not set, the key is
// loaded from the AUTHX_DATA_KEY environment variable.
func SetDataKeyPath(path string) {
	dataKeyPath = path
}

// loadDataKey derives a 32-byte AES-256 key from either:
// 1. File specified by dataKeyPath (if set)
// 2. AUTHX_DATA_KEY environment variable (base64 or raw)
// 3. A generated ephemeral key for development (NOT for production:
//    sealed secrets won't survive a restart)
func loadDataKey() ([]byte, error) {
	var keyMaterial []byte

	if dataKeyPath != "" {
		data, err := os.ReadFile(dataKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read data key file: %w", err)
		}
		keyMaterial = data
	} else if envKey := os.Getenv("AUTHX_DATA_KEY"); envKey != "" {
		if decoded, err := base64.StdEncoding.DecodeString(envKey); err == nil {
			keyMaterial = decoded
		} else {
			keyMaterial = []byte(envKey)
		}
	} else {
		keyMaterial = make([]byte, 32)
		if _, err := rand.Read(keyMaterial); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral data key: %w", err)
		}
		slog.Warn("no data key configured, using ephemeral key; sealed secrets will not survive a restart")
	}

	// Derive a proper 32-byte key regardless of input length
	hash := sha256.Sum256(keyMaterial)
	return hash[:], nil
}

func getDataKey() ([]byte, error) {
	var err error
	dataKeyOnce.Do(func() {
		dataKey, err = loadDataKey()
	})
	if err != nil {
		return nil, err
	}
	if dataKey == nil {
		return nil, fmt.Errorf("data key not initialized")
	}
	return dataKey, nil
}

// EncryptSensitiveString seals a plaintext with AES-256-GCM under the
// operator data key. Output layout is [12-byte nonce][ciphertext+tag],
// base64url encoded for storage in text columns and token claims.
func EncryptSensitiveString(plaintext string) (string, error) {
	key, err := getDataKey()
	if err != nil {
		return "", fmt.Errorf("failed to get data key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptSensitiveString reverses EncryptSensitiveString. Any corruption,
// truncation, or key mismatch returns an error; callers in verification
// paths must degrade that to "invalid code", never a server failure.
func DecryptSensitiveString(sealed string) (string, error) {
	key, err := getDataKey()
	if err != nil {
		return "", fmt.Errorf("failed to get data key: %w", err)
	}

	blob, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext encoding: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(blob) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// ResetDataKeyForTesting resets the data key singleton. Tests only.
func ResetDataKeyForTesting() {
	dataKeyOnce = sync.Once{}
	dataKey = nil
}
