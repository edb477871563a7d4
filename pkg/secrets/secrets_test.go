package secrets

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func tempKeyPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".secret_key")
}

func unseal(t *testing.T, v *Vault, ciphertext string) string {
	t.Helper()
	secret, _, err := v.Unseal(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	defer secret.Zero()
	return secret.String()
}

func TestRoundtrip(t *testing.T) {
	v, err := Open(tempKeyPath(t), true)
	if err != nil {
		t.Fatal(err)
	}

	original := "sk-or-v1-abc123"
	sealed, err := v.Seal(original)
	if err != nil {
		t.Fatal(err)
	}
	if sealed == original {
		t.Fatal("sealed value should differ from original")
	}
	if !IsSealed(sealed) {
		t.Fatal("sealed value should have enc: prefix")
	}

	if got := unseal(t, v, sealed); got != original {
		t.Fatalf("roundtrip failed: got %q, want %q", got, original)
	}
}

func TestEmptyString(t *testing.T) {
	v, err := Open(tempKeyPath(t), true)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := v.Seal("")
	if err != nil {
		t.Fatal(err)
	}
	if sealed != "" {
		t.Fatalf("empty string should remain empty, got %q", sealed)
	}
}

func TestPlaintextPassthrough(t *testing.T) {
	v, err := Open(tempKeyPath(t), true)
	if err != nil {
		t.Fatal(err)
	}

	plain := "sk-or-v1-abc123"
	if got := unseal(t, v, plain); got != plain {
		t.Fatalf("plaintext passthrough failed: got %q, want %q", got, plain)
	}
}

func TestAlreadySealedPassthrough(t *testing.T) {
	v, err := Open(tempKeyPath(t), true)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := v.Seal("my-secret")
	if err != nil {
		t.Fatal(err)
	}

	doubleSealed, err := v.Seal(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if doubleSealed != sealed {
		t.Fatal("already-sealed value should pass through unchanged")
	}
}

func TestTamperDetection(t *testing.T) {
	v, err := Open(tempKeyPath(t), true)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := v.Seal("my-secret")
	if err != nil {
		t.Fatal(err)
	}

	raw := []byte(sealed)
	if raw[len(raw)-1] == '0' {
		raw[len(raw)-1] = '1'
	} else {
		raw[len(raw)-1] = '0'
	}
	tampered := string(raw)

	if _, _, err := v.Unseal(tampered); err == nil {
		t.Fatal("tampered ciphertext should fail decryption")
	}
}

func TestDifferentNonces(t *testing.T) {
	v, err := Open(tempKeyPath(t), true)
	if err != nil {
		t.Fatal(err)
	}

	enc1, err := v.Seal("same-value")
	if err != nil {
		t.Fatal(err)
	}
	enc2, err := v.Seal("same-value")
	if err != nil {
		t.Fatal(err)
	}

	if enc1 == enc2 {
		t.Fatal("two seals of same value should produce different ciphertexts")
	}

	if unseal(t, v, enc1) != unseal(t, v, enc2) {
		t.Fatal("both ciphertexts should decrypt to same plaintext")
	}
}

func TestKeyGenerationAndPersistence(t *testing.T) {
	keyPath := tempKeyPath(t)

	v1, err := Open(keyPath, true)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := v1.Seal("persistent-test")
	if err != nil {
		t.Fatal(err)
	}

	v2, err := Open(keyPath, true)
	if err != nil {
		t.Fatal(err)
	}

	if got := unseal(t, v2, sealed); got != "persistent-test" {
		t.Fatalf("key persistence failed: got %q", got)
	}
}

func TestInvalidKeyFile(t *testing.T) {
	keyPath := tempKeyPath(t)
	os.WriteFile(keyPath, []byte("not-valid-hex!"), 0600)

	if _, err := Open(keyPath, true); err == nil {
		t.Fatal("expected error for invalid key file")
	}
}

func TestWrongKeyDecryption(t *testing.T) {
	v1, err := Open(tempKeyPath(t), true)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := v1.Seal("secret-data")
	if err != nil {
		t.Fatal(err)
	}

	keyPath2 := tempKeyPath(t)
	differentKey := make([]byte, 32)
	differentKey[0] = 0xFF
	os.WriteFile(keyPath2, []byte(hex.EncodeToString(differentKey)), 0600)
	v2, err := Open(keyPath2, true)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := v2.Unseal(sealed); err == nil {
		t.Fatal("decryption with wrong key should fail")
	}
}

func TestDisabledVaultPassthrough(t *testing.T) {
	v, err := Open(tempKeyPath(t), false)
	if err != nil {
		t.Fatal(err)
	}
	if v.Enabled() {
		t.Fatal("vault opened with enabled=false should report disabled")
	}

	sealed, err := v.Seal("plain-value")
	if err != nil {
		t.Fatal(err)
	}
	if sealed != "plain-value" {
		t.Fatalf("disabled vault should not transform values, got %q", sealed)
	}
}

func TestLegacyEnvelopeUpgrade(t *testing.T) {
	keyPath := tempKeyPath(t)
	v, err := Open(keyPath, true)
	if err != nil {
		t.Fatal(err)
	}

	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, aead.NonceSize())
	ciphertext := aead.Seal(nonce, nonce, []byte("old-secret"), nil)
	legacy := legacyPrefix + hex.EncodeToString(ciphertext)

	secret, upgraded, err := v.Unseal(legacy)
	if err != nil {
		t.Fatal(err)
	}
	defer secret.Zero()
	if secret.String() != "old-secret" {
		t.Fatalf("legacy decrypt failed: got %q", secret.String())
	}
	if upgraded == "" || !IsSealed(upgraded) {
		t.Fatal("expected an upgraded current-scheme envelope")
	}
	if got := unseal(t, v, upgraded); got != "old-secret" {
		t.Fatalf("upgraded envelope roundtrip failed: got %q", got)
	}
}
