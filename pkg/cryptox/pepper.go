package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	keyLength  = 32 // derived hash and pepper length
	saltLength = 16 // per-code salt length
)

var (
	pepper     string
	pepperFile string
)

// SetPepperPath points the package at the pepper file. Call once at
// startup, before any one-time code is hashed.
func SetPepperPath(file string) {
	pepperFile = file
}

// GetPepper returns the process-wide pepper mixed into every hashed
// one-time code, creating the file on first use. Without the pepper no
// stored backup or email code can ever verify again, so failure to
// load it is fatal.
func GetPepper() string {
	if pepper != "" {
		return pepper
	}

	p, err := loadOrCreatePepper()
	if err != nil {
		slog.Error("failed to load or create pepper", slog.Any("err", err))
		os.Exit(1)
	}
	pepper = p
	return pepper
}

func loadOrCreatePepper() (string, error) {
	path := filepath.Clean(pepperFile)

	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", err
	}

	raw := make([]byte, keyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	p := base64.RawURLEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(p), 0600); err != nil {
		return "", err
	}
	return p, nil
}
