// Package vault seals secret values at rest and resolves secret:<name>
// references in configuration.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Changing any of them makes existing secrets
// unreadable.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = 32
)

// Vault is an AES-256-GCM AEAD keyed from the operator passphrase. Each
// sealed value is bound to its secret name, so a ciphertext copied onto
// another row does not open.
type Vault struct {
	aead cipher.AEAD
}

func New(passphrase string) *Vault {
	block, err := aes.NewCipher(deriveKey(passphrase))
	if err != nil {
		// Unreachable with a keySize key.
		panic(fmt.Sprintf("vault: create cipher: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("vault: create gcm: %v", err))
	}
	return &Vault{aead: aead}
}

// deriveKey salts with the passphrase's own SHA-256 so restarts derive the
// same key without storing a salt.
func deriveKey(passphrase string) []byte {
	salt := sha256.Sum256([]byte(passphrase))
	return argon2.IDKey([]byte(passphrase), salt[:16], argonTime, argonMemory, argonThreads, keySize)
}

// Encrypt seals plaintext under a fresh random nonce. aad is authenticated
// but not encrypted; Decrypt must be given the same value.
func (v *Vault) Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nil, nonce, plaintext, aad), nonce, nil
}

func (v *Vault) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != v.aead.NonceSize() {
		return nil, fmt.Errorf("decrypt: nonce is %d bytes, want %d", len(nonce), v.aead.NonceSize())
	}
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
