// Package identity owns the durable device identity: an Ed25519 keypair plus
// a stable device id derived from the public key.
//
// The private key never leaves this process. Every serialized view of the
// identity that crosses the process boundary is a PublicIdentity.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"time"
)

// SchemaVersion is the current on-disk identity schema version.
const SchemaVersion = 1

// Identity is the per-installation device identity.
//
// PrivateKey holds the 32-byte Ed25519 seed. It is serialized only into the
// encrypted local blob, never over the wire.
type Identity struct {
	// DeviceID is hex(sha256(publicKey)[:16]); 32 lowercase hex characters.
	// It is a pure function of the public key and is never regenerated
	// independently of the keypair.
	DeviceID string `json:"deviceId"`
	// PublicKey is the 32-byte Ed25519 public key.
	PublicKey []byte `json:"publicKey"`
	// PrivateKey is the 32-byte Ed25519 seed.
	PrivateKey []byte `json:"privateKey"`
	// Name is the human-readable device name.
	Name string `json:"name"`
	// Platform is the OS/platform string recorded at creation time.
	Platform string `json:"platform"`
	// CreatedAtMs is the wall-clock creation timestamp (ms since epoch).
	CreatedAtMs int64 `json:"createdAtMs"`
	// SchemaVersion is the on-disk schema version this blob was written with.
	SchemaVersion int `json:"schemaVersion"`
}

// PublicIdentity is the projection of Identity safe to serialize over the
// wire. It has no private key field at all, so no marshaling mode can leak
// the key.
type PublicIdentity struct {
	DeviceID      string `json:"deviceId"`
	PublicKey     []byte `json:"publicKey"`
	Name          string `json:"name"`
	Platform      string `json:"platform"`
	CreatedAtMs   int64  `json:"createdAtMs"`
	SchemaVersion int    `json:"schemaVersion"`
}

// Store persists the identity blob. Implemented by internal/storage.
type Store interface {
	// LoadIdentity returns the persisted identity. ok is false when no
	// identity has been stored yet.
	LoadIdentity() (id *Identity, ok bool, err error)
	// SaveIdentity persists the identity blob.
	SaveIdentity(id *Identity) error
}

// DeriveDeviceID computes the stable device id for a public key.
func DeriveDeviceID(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:16])
}

// Generate creates a fresh identity with a new random keypair.
//
// RNG unavailability is the only failure mode and is fatal for the caller:
// nothing works without a key.
func Generate(name string) (*Identity, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return &Identity{
		DeviceID:      DeriveDeviceID(publicKey),
		PublicKey:     publicKey,
		PrivateKey:    privateKey.Seed(),
		Name:          name,
		Platform:      runtime.GOOS,
		CreatedAtMs:   time.Now().UnixMilli(),
		SchemaVersion: SchemaVersion,
	}, nil
}

// LoadOrCreate reads the persisted identity, generating and persisting a new
// one when none exists.
//
// When generation succeeds but persisting fails, the new identity is returned
// together with the save error so the caller can tell that the identity is
// unsaved and may reappear as "new" on the next run.
func LoadOrCreate(store Store, defaultName string) (*Identity, error) {
	id, ok, err := store.LoadIdentity()
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if ok {
		return id, nil
	}

	id, err = Generate(defaultName)
	if err != nil {
		return nil, err
	}
	if err := store.SaveIdentity(id); err != nil {
		return id, fmt.Errorf("failed to persist new identity: %w", err)
	}
	return id, nil
}

// Sign signs payload with the identity's private key.
func (id *Identity) Sign(payload []byte) ([]byte, error) {
	if len(id.PrivateKey) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid private key size: %d (expected %d)", len(id.PrivateKey), ed25519.SeedSize)
	}
	key := ed25519.NewKeyFromSeed(id.PrivateKey)
	return ed25519.Sign(key, payload), nil
}

// Verify reports whether signature is a valid signature of payload under
// publicKey. It never returns an error; malformed keys or signatures are
// simply not valid.
func Verify(publicKey, payload, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature)
}

// Public returns the wire-safe projection of the identity.
func (id *Identity) Public() PublicIdentity {
	return PublicIdentity{
		DeviceID:      id.DeviceID,
		PublicKey:     id.PublicKey,
		Name:          id.Name,
		Platform:      id.Platform,
		CreatedAtMs:   id.CreatedAtMs,
		SchemaVersion: id.SchemaVersion,
	}
}
