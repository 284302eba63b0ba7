package telemetra

import (
	"bytes"
	"testing"
)

func TestEncryptorRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	enc, err := NewEncryptor(EncryptionConfig{Enabled: true, Key: key})
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	plain := []byte("chunk blob payload")
	sealed, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Error("ciphertext contains plaintext")
	}
	opened, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Errorf("round trip = %q, want %q", opened, plain)
	}
}

func TestEncryptorUniqueNonces(t *testing.T) {
	enc, _ := NewEncryptor(EncryptionConfig{Key: bytes.Repeat([]byte{1}, 32)})
	a, _ := enc.Encrypt([]byte("same"))
	b, _ := enc.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestEncryptorWrongKeyFails(t *testing.T) {
	enc1, _ := NewEncryptor(EncryptionConfig{Key: bytes.Repeat([]byte{1}, 32)})
	enc2, _ := NewEncryptor(EncryptionConfig{Key: bytes.Repeat([]byte{2}, 32)})

	sealed, _ := enc1.Encrypt([]byte("secret"))
	if _, err := enc2.Decrypt(sealed); err == nil {
		t.Error("Decrypt with wrong key = nil error")
	}
}

func TestEncryptorPassphrase(t *testing.T) {
	cfg := EncryptionConfig{Passphrase: "correct horse", Salt: []byte("fleet-salt")}
	enc1, err := NewEncryptor(cfg)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	// The same passphrase and salt must derive the same key across restarts.
	enc2, _ := NewEncryptor(cfg)
	sealed, _ := enc1.Encrypt([]byte("payload"))
	opened, err := enc2.Decrypt(sealed)
	if err != nil || string(opened) != "payload" {
		t.Errorf("cross-instance decrypt = %q, %v", opened, err)
	}
}

func TestNewEncryptorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  EncryptionConfig
	}{
		{"no key material", EncryptionConfig{Enabled: true}},
		{"short key", EncryptionConfig{Key: []byte("short")}},
		{"passphrase without salt", EncryptionConfig{Passphrase: "p"}},
		{"short salt", EncryptionConfig{Passphrase: "p", Salt: []byte("abc")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEncryptor(tt.cfg); err == nil {
				t.Error("NewEncryptor = nil error")
			}
		})
	}
}

func TestDecryptRejectsShortBlob(t *testing.T) {
	enc, _ := NewEncryptor(EncryptionConfig{Key: bytes.Repeat([]byte{3}, 32)})
	if _, err := enc.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Error("Decrypt(short blob) = nil error")
	}
}
