package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
)

func TestGenerateDeviceID(t *testing.T) {
	id, err := Generate("Test Device")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(id.DeviceID) {
		t.Fatalf("device id is not 32 lowercase hex chars: %q", id.DeviceID)
	}

	sum := sha256.Sum256(id.PublicKey)
	if want := hex.EncodeToString(sum[:16]); id.DeviceID != want {
		t.Fatalf("device id mismatch: got %q, want %q", id.DeviceID, want)
	}
	if id.Name != "Test Device" {
		t.Fatalf("expected name to be kept, got %q", id.Name)
	}
}

func TestDeriveDeviceIDIsDeterministic(t *testing.T) {
	id, err := Generate("d")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if DeriveDeviceID(id.PublicKey) != id.DeviceID {
		t.Fatalf("re-deriving from the same public key changed the device id")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := Generate("d")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	payload := []byte("the payload")
	sig, err := id.Sign(payload)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	if !Verify(id.PublicKey, payload, sig) {
		t.Fatalf("expected signature to verify")
	}

	// Mutating one byte of the payload must invalidate the signature.
	mutated := append([]byte(nil), payload...)
	mutated[0] ^= 0x01
	if Verify(id.PublicKey, mutated, sig) {
		t.Fatalf("expected mutated payload to fail verification")
	}

	// Mutating one byte of the signature must invalidate it too.
	badSig := append([]byte(nil), sig...)
	badSig[0] ^= 0x01
	if Verify(id.PublicKey, payload, badSig) {
		t.Fatalf("expected mutated signature to fail verification")
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	id, err := Generate("d")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	sig, err := id.Sign([]byte("x"))
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	if Verify(nil, []byte("x"), sig) {
		t.Fatalf("expected nil public key to fail verification")
	}
	if Verify(id.PublicKey[:8], []byte("x"), sig) {
		t.Fatalf("expected short public key to fail verification")
	}
	if Verify(id.PublicKey, []byte("x"), []byte("not a signature")) {
		t.Fatalf("expected malformed signature to fail verification")
	}
}

func TestPublicViewOmitsPrivateKey(t *testing.T) {
	id, err := Generate("Test Device")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	raw, err := json.Marshal(id.Public())
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal returned error: %v", err)
	}
	if _, ok := fields["privateKey"]; ok {
		t.Fatalf("public view must not contain a privateKey field: %s", raw)
	}
	if _, ok := fields["deviceId"]; !ok {
		t.Fatalf("public view missing deviceId: %s", raw)
	}
}

type fakeStore struct {
	id      *Identity
	saveErr error
	loadErr error
}

func (s *fakeStore) LoadIdentity() (*Identity, bool, error) {
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	if s.id == nil {
		return nil, false, nil
	}
	return s.id, true, nil
}

func (s *fakeStore) SaveIdentity(id *Identity) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.id = id
	return nil
}

func TestLoadOrCreatePersists(t *testing.T) {
	store := &fakeStore{}

	first, err := LoadOrCreate(store, "d")
	if err != nil {
		t.Fatalf("LoadOrCreate returned error: %v", err)
	}

	second, err := LoadOrCreate(store, "d")
	if err != nil {
		t.Fatalf("LoadOrCreate returned error: %v", err)
	}
	if second.DeviceID != first.DeviceID {
		t.Fatalf("expected the same identity on the second load, got %q vs %q", second.DeviceID, first.DeviceID)
	}
}

func TestLoadOrCreateSurfacesSaveFailure(t *testing.T) {
	saveErr := errors.New("disk full")
	store := &fakeStore{saveErr: saveErr}

	id, err := LoadOrCreate(store, "d")
	if err == nil {
		t.Fatalf("expected save failure to be surfaced")
	}
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
	if id == nil {
		t.Fatalf("expected the unsaved identity to be returned alongside the error")
	}
}
