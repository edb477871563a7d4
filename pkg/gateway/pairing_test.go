package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func hmacHex(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPairingStore_ConfirmIssuesUsableToken(t *testing.T) {
	store := NewPairingStore()
	code := store.NewCode()

	token, err := store.Confirm(code)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if !store.VerifyToken("caller-1", token) {
		t.Error("expected issued token to verify")
	}
}

func TestPairingStore_ConfirmRejectsUnknownCode(t *testing.T) {
	store := NewPairingStore()
	if _, err := store.Confirm("000000"); err == nil {
		t.Fatal("expected error for unknown pairing code")
	}
}

func TestPairingStore_LockoutAfterFailures(t *testing.T) {
	store := NewPairingStore()
	code := store.NewCode()
	token, err := store.Confirm(code)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	caller := "caller-2"
	for i := 0; i < 5; i++ {
		if store.VerifyToken(caller, "wrong-token") {
			t.Fatal("wrong token should never verify")
		}
	}
	// 5 failures should now lock out even the correct token.
	if store.VerifyToken(caller, token) {
		t.Error("expected lockout to reject even a correct token")
	}
}

func TestVerifySignature_RoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	body := []byte(`{"event":"message"}`)

	mac := hmacHex(secret, body)
	if !VerifySignature(secret, body, mac) {
		t.Error("expected matching HMAC to verify")
	}
	if VerifySignature(secret, body, "00"+mac[2:]) {
		t.Error("expected tampered signature to fail")
	}
}

func TestReplayCache_RejectsSecondSighting(t *testing.T) {
	cache := NewReplayCache(5 * time.Minute)
	if cache.Seen("msg-1") {
		t.Error("first sighting should not be a replay")
	}
	if !cache.Seen("msg-1") {
		t.Error("second sighting within TTL should be a replay")
	}
}
