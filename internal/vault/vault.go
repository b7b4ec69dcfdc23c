// Package vault encrypts and decrypts connector secrets at rest using
// AES-256-GCM. Stored values are base64(nonce || ciphertext || tag).
//
// Records written before encryption was introduced hold plain JSON; the
// typed Decrypt helpers read those through a single legacy shim but the
// write path always produces ciphertext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/datagate-io/datagate/internal/model"
)

var (
	// ErrMissingKey is returned when no encryption key is configured.
	// Callers treat this as a fatal startup error, never per-request.
	ErrMissingKey = errors.New("vault: encryption key not configured")
	// ErrDecryptionFailed is returned for undecodable or tampered ciphertext.
	ErrDecryptionFailed = errors.New("vault: decryption failed")
)

// Vault holds the AEAD derived from the configured key. Encrypt and Decrypt
// are pure functions of their inputs; a Vault is safe for concurrent use.
type Vault struct {
	gcm cipher.AEAD
}

// New derives the symmetric key and constructs the Vault. The key input is
// either a base64-encoded 32-byte key (openssl rand -base64 32) used
// directly, or an arbitrary passphrase hashed to 32 bytes with SHA-256.
func New(keyInput string) (*Vault, error) {
	if keyInput == "" {
		return nil, ErrMissingKey
	}

	var key []byte
	if decoded, err := base64.StdEncoding.DecodeString(keyInput); err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create GCM: %w", err)
	}
	return &Vault{gcm: gcm}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. The error message never
// includes the stored value or any plaintext.
func (v *Vault) Decrypt(stored string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrDecryptionFailed)
	}
	nonceSize := v.gcm.NonceSize()
	if len(data) < nonceSize+v.gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return plaintext, nil
}

// EncryptConfig seals a connection config as ciphertext JSON.
func (v *Vault) EncryptConfig(cfg model.ConnectionConfig) (string, error) {
	return v.encryptJSON(cfg)
}

// DecryptConfig reads a stored connection config, accepting legacy
// plaintext records.
func (v *Vault) DecryptConfig(stored string) (model.ConnectionConfig, error) {
	var cfg model.ConnectionConfig
	err := v.decryptJSON(stored, &cfg)
	return cfg, err
}

// EncryptCredentials seals a credential set as ciphertext JSON.
func (v *Vault) EncryptCredentials(creds model.Credentials) (string, error) {
	return v.encryptJSON(creds)
}

// DecryptCredentials reads a stored credential set, accepting legacy
// plaintext records.
func (v *Vault) DecryptCredentials(stored string) (model.Credentials, error) {
	var creds model.Credentials
	err := v.decryptJSON(stored, &creds)
	return creds, err
}

func (v *Vault) encryptJSON(value interface{}) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("vault: marshal: %w", err)
	}
	return v.Encrypt(b)
}

// decryptJSON is the read-side compatibility shim. Records written before
// encryption was introduced hold plain JSON objects; those parse directly.
// Anything that is not a JSON object is treated as ciphertext. This path is
// read-only: nothing in the gateway writes plaintext records.
func (v *Vault) decryptJSON(stored string, out interface{}) error {
	if stored == "" {
		return nil
	}
	if looksLikeJSON(stored) {
		if err := json.Unmarshal([]byte(stored), out); err == nil {
			return nil
		}
	}
	plaintext, err := v.Decrypt(stored)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: decrypted payload is not valid JSON", ErrDecryptionFailed)
	}
	return nil
}

// looksLikeJSON is a cheap pre-filter so base64 ciphertext never goes
// through a full JSON parse attempt.
func looksLikeJSON(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}
