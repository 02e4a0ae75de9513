package signature

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// generateTestKeyring creates a throwaway armored private-key file so tests
// don't depend on a fixture checked into the repository.
func generateTestKeyring(t *testing.T) string {
	t.Helper()
	entity, err := openpgp.NewEntity("Test Signer", "", "signer@example.test", nil)
	if err != nil {
		t.Fatalf("generating entity: %v", err)
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "keyring.asc")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSignAndVerifyDetached(t *testing.T) {
	keyringPath := generateTestKeyring(t)
	kr, err := LoadKeyring(keyringPath)
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}

	payloadPath := filepath.Join(t.TempDir(), "payload.tar.gz")
	if err := os.WriteFile(payloadPath, []byte("sealed component bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	sig, err := kr.SignDetached(payloadPath, "signer@example.test")
	if err != nil {
		t.Fatalf("SignDetached: %v", err)
	}

	result, err := kr.VerifyDetachedFile(payloadPath, writeSig(t, sig), "")
	if err != nil {
		t.Fatalf("VerifyDetachedFile: %v", err)
	}
	if result != Valid {
		t.Fatalf("expected Valid, got %v", result)
	}
}

func TestVerifyDetachedTamperedPayload(t *testing.T) {
	keyringPath := generateTestKeyring(t)
	kr, err := LoadKeyring(keyringPath)
	if err != nil {
		t.Fatal(err)
	}

	payloadPath := filepath.Join(t.TempDir(), "payload.tar.gz")
	os.WriteFile(payloadPath, []byte("original"), 0644)
	sig, err := kr.SignDetached(payloadPath, "signer@example.test")
	if err != nil {
		t.Fatal(err)
	}

	os.WriteFile(payloadPath, []byte("tampered!"), 0644)
	result, err := kr.VerifyDetachedFile(payloadPath, writeSig(t, sig), "")
	if err == nil || result == Valid {
		t.Fatal("expected verification failure on tampered payload")
	}
}

func writeSig(t *testing.T, sig []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sig.asc")
	if err := os.WriteFile(path, sig, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
