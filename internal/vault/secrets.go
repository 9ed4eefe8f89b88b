package vault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/store"
)

// RefPrefix marks a config value that names a stored secret.
const RefPrefix = "secret:"

var (
	ErrNoPassphrase  = errors.New("vault passphrase is not configured")
	ErrSecretMissing = errors.New("secret not found")
)

// SecretSource is satisfied by *store.Store.
type SecretSource interface {
	GetSecretByName(name string) (*store.Secret, error)
}

// IsRef reports whether value is a secret:<name> reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, RefPrefix) && len(value) > len(RefPrefix)
}

// Seal encrypts value into a secret record ready to save. The record id is
// the name so repeated sets replace the previous value.
func (v *Vault) Seal(name, description string, value []byte) (*store.Secret, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("secret name is required")
	}
	ciphertext, nonce, err := v.Encrypt(value, []byte(name))
	if err != nil {
		return nil, err
	}
	return &store.Secret{
		ID:          name,
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	}, nil
}

func (v *Vault) Open(sec *store.Secret) ([]byte, error) {
	return v.Decrypt(sec.Value, sec.Nonce, []byte(sec.Name))
}

// Lookup decrypts the named secret.
func (v *Vault) Lookup(src SecretSource, name string) (string, error) {
	sec, err := src.GetSecretByName(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretMissing, name)
	}
	plain, err := v.Open(sec)
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", name, err)
	}
	return string(plain), nil
}

// Resolve returns value unchanged unless it is a reference, in which case
// the decrypted secret is returned. v may be nil when no reference is used.
func Resolve(v *Vault, src SecretSource, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	if v == nil {
		return "", ErrNoPassphrase
	}
	return v.Lookup(src, strings.TrimPrefix(value, RefPrefix))
}

// ResolveConfig replaces references in the credential fields of cfg.
func ResolveConfig(cfg *config.Config, src SecretSource) error {
	var v *Vault
	if cfg.Vault.Passphrase != "" {
		v = New(cfg.Vault.Passphrase)
	}
	fields := []struct {
		name string
		ptr  *string
	}{
		{"gemini.api_key", &cfg.Gemini.APIKey},
		{"telegram.token", &cfg.Telegram.Token},
		{"web.auth", &cfg.Web.Auth},
	}
	for _, f := range fields {
		resolved, err := Resolve(v, src, *f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = resolved
	}
	return nil
}
