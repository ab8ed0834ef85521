package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestKeyring_EncryptDecryptRoundTrip(t *testing.T) {
	ring, err := NewKeyringFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	plaintext := []byte("token-value-123")
	encrypted, err := ring.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(encrypted, plaintext) {
		t.Fatalf("expected encrypted payload to differ from plaintext")
	}
	if !bytes.HasPrefix(encrypted, []byte(envelopePrefix)) {
		t.Fatalf("expected envelope prefix")
	}

	decrypted, err := ring.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}
}

func TestKeyring_DecryptsPreviousKeyAfterRotation(t *testing.T) {
	ring, err := NewKeyringFromString("key-v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	encrypted, err := ring.Encrypt(context.Background(), []byte("old-token"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if err := ring.Rotate(Key{Material: []byte("key-v2")}); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := ring.CurrentKeyVersion(); got != 2 {
		t.Fatalf("expected current version 2; got %d", got)
	}

	decrypted, err := ring.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt with previous key: %v", err)
	}
	if string(decrypted) != "old-token" {
		t.Fatalf("expected old plaintext; got %q", string(decrypted))
	}
}

func TestKeyring_UnknownVersionAfterDoubleRotation(t *testing.T) {
	ring, err := NewKeyringFromString("key-v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	encrypted, err := ring.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if err := ring.Rotate(Key{Material: []byte("key-v2")}); err != nil {
		t.Fatalf("rotate to v2: %v", err)
	}
	if err := ring.Rotate(Key{Material: []byte("key-v3")}); err != nil {
		t.Fatalf("rotate to v3: %v", err)
	}

	if _, err := ring.Decrypt(context.Background(), encrypted); !errors.Is(err, ErrUnknownKeyVersion) {
		t.Fatalf("expected ErrUnknownKeyVersion; got %v", err)
	}
}

func TestKeyring_TamperedCiphertextFails(t *testing.T) {
	ring, err := NewKeyringFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	encrypted, err := ring.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := bytes.Replace(encrypted, []byte(`"ciphertext":"`), []byte(`"ciphertext":"AAAA`), 1)
	if _, err := ring.Decrypt(context.Background(), tampered); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed; got %v", err)
	}
}

func TestKeyring_WrongLengthNonceFails(t *testing.T) {
	ring, err := NewKeyringFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	encrypted, err := ring.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var stored envelope
	if err := json.Unmarshal(bytes.TrimPrefix(encrypted, []byte(envelopePrefix)), &stored); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	stored.Nonce = base64.StdEncoding.EncodeToString([]byte("8bytes!!"))
	data, err := json.Marshal(stored)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	corrupted := append([]byte(envelopePrefix), data...)
	if _, err := ring.Decrypt(context.Background(), corrupted); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed; got %v", err)
	}
}

func TestKeyring_ReencryptToCurrent(t *testing.T) {
	ring, err := NewKeyringFromString("key-v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	encrypted, err := ring.Encrypt(context.Background(), []byte("migrate-me"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := ring.Rotate(Key{Material: []byte("key-v2")}); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	migrated, err := ring.ReencryptToCurrent(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("reencrypt: %v", err)
	}
	meta, err := parseEnvelope(migrated)
	if err != nil {
		t.Fatalf("parse migrated envelope: %v", err)
	}
	if meta.Version != 2 {
		t.Fatalf("expected migrated ciphertext on version 2; got %d", meta.Version)
	}

	decrypted, err := ring.Decrypt(context.Background(), migrated)
	if err != nil {
		t.Fatalf("decrypt migrated: %v", err)
	}
	if string(decrypted) != "migrate-me" {
		t.Fatalf("expected migrated plaintext; got %q", string(decrypted))
	}
}

func TestKeyring_WithCurrentVersionPinsEncryptingKey(t *testing.T) {
	ring, err := NewKeyring([]Key{
		{Version: 1, Material: []byte("key-one")},
		{Version: 2, Material: []byte("key-two")},
	}, WithCurrentVersion(1))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if ring.CurrentKeyVersion() != 1 {
		t.Fatalf("expected pinned version 1, got %d", ring.CurrentKeyVersion())
	}

	unknown, err := NewKeyring([]Key{
		{Version: 1, Material: []byte("key-one")},
	}, WithCurrentVersion(9))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if unknown.CurrentKeyVersion() != 1 {
		t.Fatalf("expected unknown pin to be ignored, got %d", unknown.CurrentKeyVersion())
	}
}
