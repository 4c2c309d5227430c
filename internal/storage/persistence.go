// Package storage persists beacon's local state under the beacon home
// directory: the local secret key, the encrypted device identity blob, the
// saved-gateway list, and the last-used gateway record.
package storage

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// GenerateSecretKey generates a new 32-byte secret key
func GenerateSecretKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// SaveSecretKey saves the secret key to a file
func SaveSecretKey(path string, key []byte) error {
	// Encode as base64 for readability
	encoded := base64.StdEncoding.EncodeToString(key)

	// Write with restrictive permissions
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	return nil
}

// LoadSecretKey loads the secret key from a file
func LoadSecretKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	// Decode from base64
	key, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: %d (expected 32)", len(key))
	}

	return key, nil
}

// GetOrCreateSecretKey loads or generates a secret key
func GetOrCreateSecretKey(path string) ([]byte, error) {
	// Try to load existing key
	key, err := LoadSecretKey(path)
	if err == nil {
		return key, nil
	}

	// Generate new key
	key, err = GenerateSecretKey()
	if err != nil {
		return nil, err
	}

	// Save it
	if err := SaveSecretKey(path, key); err != nil {
		return nil, err
	}

	return key, nil
}

// writeFileAtomic writes data to path via a temp file and rename so readers
// never observe a partial write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
