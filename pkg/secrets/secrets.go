// Package secrets implements the AEAD-encrypted secret vault: a single
// process-wide key file backs encryption/decryption of sensitive config
// values (provider API keys, channel tokens) at rest.
//
// Uses the standard ChaCha20-Poly1305 construction (12-byte nonce, 16-byte
// tag); envelopes written by the older 24-byte-nonce XChaCha20-Poly1305
// scheme are auto-upgraded on first read. Decrypted buffers are zeroized on
// drop via the Secret wrapper type.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// encPrefix marks the current envelope format: hex(nonce || ciphertext || tag)
// using standard ChaCha20-Poly1305 (12-byte nonce, 16-byte tag).
const encPrefix = "enc:"

// legacyPrefix marks a pre-AEAD envelope produced by an older vault version:
// hex(nonce || ciphertext) sealed with XChaCha20-Poly1305 (24-byte nonce).
// These are auto-upgraded to encPrefix on first successful read.
const legacyPrefix = "encx:"

var ErrDisabled = errors.New("secrets: vault is disabled (plaintext mode)")

// Secret holds a decrypted value in a short-lived buffer. Callers must call
// Zero when done; Vault.WithSecret does this automatically around a
// narrow-scope callback.
type Secret struct {
	buf []byte
}

// String exposes the decrypted value. Do not retain the returned string
// beyond the scope that holds the Secret — Go strings are immutable and
// cannot be zeroized, so the caller's window of exposure is what Zero
// bounds in practice (the backing buffer, not copies already taken).
func (s *Secret) String() string {
	if s == nil {
		return ""
	}
	return string(s.buf)
}

// Zero overwrites the decrypted buffer with zeros.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Vault handles encryption and decryption of sensitive config values using
// ChaCha20-Poly1305 AEAD, or passes values through unchanged when disabled.
type Vault struct {
	key     [32]byte
	enabled bool
}

// Open loads an existing key or generates a new one at keyPath. The key
// file holds 64 hex characters (32 bytes) with owner-only (0600)
// permissions. When enabled is false, the vault stores values in plaintext
// but still exposes the full Vault surface — callers never branch on mode.
func Open(keyPath string, enabled bool) (*Vault, error) {
	if !enabled {
		return &Vault{enabled: false}, nil
	}

	dir := filepath.Dir(keyPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("secrets: create key directory: %w", err)
	}

	data, err := os.ReadFile(keyPath)
	if err == nil {
		return loadKey(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("secrets: read key file: %w", err)
	}

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("secrets: generate key: %w", err)
	}

	encoded := hex.EncodeToString(key[:])
	if err := os.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("secrets: write key file: %w", err)
	}

	return &Vault{key: key, enabled: true}, nil
}

func loadKey(hexKey string) (*Vault, error) {
	decoded, err := hex.DecodeString(hexKey)
	if err != nil || len(decoded) != 32 {
		return nil, errors.New("secrets: invalid key file (expected 64 hex characters)")
	}
	v := &Vault{enabled: true}
	copy(v.key[:], decoded)
	return v, nil
}

// Enabled reports whether the vault encrypts at rest.
func (v *Vault) Enabled() bool { return v.enabled }

// Seal returns "enc:" + hex(nonce || ciphertext || tag). Empty strings and
// already-sealed values are returned unchanged. In disabled mode the value
// is returned unchanged.
func (v *Vault) Seal(plaintext string) (string, error) {
	if !v.enabled || plaintext == "" || strings.HasPrefix(plaintext, encPrefix) || strings.HasPrefix(plaintext, legacyPrefix) {
		return plaintext, nil
	}

	aead, err := chacha20poly1305.New(v.key[:])
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + hex.EncodeToString(ciphertext), nil
}

// Open decrypts a sealed value into a Secret the caller must Zero. Legacy
// envelopes are decrypted with the XChaCha20-Poly1305 construction and the
// returned upgraded string (re-sealed under the current scheme) is
// available via Unseal's second return value so the caller can persist it.
func (v *Vault) Unseal(ciphertext string) (*Secret, string, error) {
	switch {
	case !v.enabled, ciphertext == "":
		return &Secret{buf: []byte(ciphertext)}, "", nil
	case strings.HasPrefix(ciphertext, encPrefix):
		pt, err := v.openCurrent(ciphertext)
		if err != nil {
			return nil, "", err
		}
		return &Secret{buf: pt}, "", nil
	case strings.HasPrefix(ciphertext, legacyPrefix):
		pt, err := v.openLegacy(ciphertext)
		if err != nil {
			return nil, "", err
		}
		upgraded, err := v.Seal(string(pt))
		if err != nil {
			return &Secret{buf: pt}, "", nil
		}
		return &Secret{buf: pt}, upgraded, nil
	default:
		// Not a recognized envelope: treat as already-plaintext.
		return &Secret{buf: []byte(ciphertext)}, "", nil
	}
}

func (v *Vault) openCurrent(ciphertext string) ([]byte, error) {
	raw, err := hex.DecodeString(ciphertext[len(encPrefix):])
	if err != nil {
		return nil, fmt.Errorf("secrets: hex decode: %w", err)
	}

	aead, err := chacha20poly1305.New(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}

	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("secrets: ciphertext too short")
	}

	plaintext, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt: %w", err)
	}
	return plaintext, nil
}

func (v *Vault) openLegacy(ciphertext string) ([]byte, error) {
	raw, err := hex.DecodeString(ciphertext[len(legacyPrefix):])
	if err != nil {
		return nil, fmt.Errorf("secrets: hex decode legacy: %w", err)
	}

	aead, err := chacha20poly1305.NewX(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("secrets: create legacy cipher: %w", err)
	}

	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("secrets: legacy ciphertext too short")
	}

	plaintext, err := aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt legacy: %w", err)
	}
	return plaintext, nil
}

// WithSecret decrypts ciphertext, invokes fn with the plaintext, and
// zeroizes the buffer before returning regardless of fn's outcome. This is
// the preferred way to consume a secret without holding it longer than the
// call that needs it.
func (v *Vault) WithSecret(ciphertext string, fn func(plaintext string) error) error {
	secret, _, err := v.Unseal(ciphertext)
	if err != nil {
		return err
	}
	defer secret.Zero()
	return fn(secret.String())
}

// IsSealed returns true if the value has a recognized vault envelope prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, encPrefix) || strings.HasPrefix(value, legacyPrefix)
}
