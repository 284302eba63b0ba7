package telemetra

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionConfig configures encryption of archived chunk blobs.
type EncryptionConfig struct {
	// Enabled turns encryption on.
	Enabled bool

	// Key is a 32-byte AES-256 key. Takes precedence over Passphrase.
	Key []byte

	// Passphrase derives a key via PBKDF2 when Key is not set.
	Passphrase string

	// Salt for key derivation. Required with Passphrase; must stay stable
	// across restarts or archived chunks become unreadable.
	Salt []byte
}

const pbkdf2Iterations = 100_000

// Encryptor seals and opens archive blobs with AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an encryptor from a key or passphrase.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	var key []byte
	switch {
	case len(cfg.Key) == 32:
		key = cfg.Key
	case len(cfg.Key) != 0:
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(cfg.Key))
	case cfg.Passphrase != "":
		if len(cfg.Salt) < 8 {
			return nil, errors.New("passphrase encryption requires a salt of at least 8 bytes")
		}
		key = pbkdf2.Key([]byte(cfg.Passphrase), cfg.Salt, pbkdf2Iterations, 32, sha256.New)
	default:
		return nil, errors.New("encryption enabled but no key or passphrase given")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext, prepending the random nonce.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(data) < ns {
		return nil, errors.New("encrypted blob too short")
	}
	return e.aead.Open(nil, data[:ns], data[ns:], nil)
}
