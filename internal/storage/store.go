package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/omnihq/beacon-client/internal/config"
	"github.com/omnihq/beacon-client/internal/crypto"
	"github.com/omnihq/beacon-client/internal/identity"
)

// Store reads and writes beacon's persisted state. The identity blob is
// encrypted at rest with a local secret key; gateway records are plain JSON.
type Store struct {
	secretKeyPath   string
	identityPath    string
	gatewaysPath    string
	lastGatewayPath string
}

// NewStore creates a Store over the paths in cfg.
func NewStore(cfg *config.Config) *Store {
	return &Store{
		secretKeyPath:   cfg.SecretKeyPath,
		identityPath:    cfg.IdentityPath,
		gatewaysPath:    cfg.GatewaysPath,
		lastGatewayPath: cfg.LastGatewayPath,
	}
}

// NewStoreAt creates a Store rooted at explicit paths. Used by tests.
func NewStoreAt(secretKeyPath, identityPath, gatewaysPath, lastGatewayPath string) *Store {
	return &Store{
		secretKeyPath:   secretKeyPath,
		identityPath:    identityPath,
		gatewaysPath:    gatewaysPath,
		lastGatewayPath: lastGatewayPath,
	}
}

func (s *Store) secret() (*[32]byte, error) {
	key, err := GetOrCreateSecretKey(s.secretKeyPath)
	if err != nil {
		return nil, err
	}
	var secret [32]byte
	copy(secret[:], key)
	return &secret, nil
}

// LoadIdentity implements identity.Store.
func (s *Store) LoadIdentity() (*identity.Identity, bool, error) {
	data, err := os.ReadFile(s.identityPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read identity blob: %w", err)
	}

	secret, err := s.secret()
	if err != nil {
		return nil, false, err
	}

	var id identity.Identity
	if err := crypto.Decrypt(data, secret, &id); err != nil {
		return nil, false, fmt.Errorf("failed to decrypt identity blob: %w", err)
	}
	return &id, true, nil
}

// SaveIdentity implements identity.Store.
func (s *Store) SaveIdentity(id *identity.Identity) error {
	secret, err := s.secret()
	if err != nil {
		return err
	}

	encrypted, err := crypto.Encrypt(id, secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt identity blob: %w", err)
	}
	return writeFileAtomic(s.identityPath, encrypted, 0o600)
}

// ResetIdentity removes the persisted identity blob.
func (s *Store) ResetIdentity() error {
	if err := os.Remove(s.identityPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) loadJSON(path string, target interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) saveJSON(path string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, raw, 0o600)
}
