// Package credential builds connection URIs and stores admin passwords in the OS keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "mongostate"

// Keyring stores admin passwords per account name.
type Keyring struct {
	service string
}

// NewKeyring creates a keyring bound to the mongostate service entry.
func NewKeyring() *Keyring {
	return &Keyring{service: keyringService}
}

// SetPassword stores a password. An empty password removes the entry.
func (k *Keyring) SetPassword(account, password string) error {
	if account == "" {
		return fmt.Errorf("keyring account cannot be empty")
	}
	if password == "" {
		_ = keyring.Delete(k.service, account)
		return nil
	}
	return keyring.Set(k.service, account, password)
}

// GetPassword returns the stored password, or "" when none exists.
func (k *Keyring) GetPassword(account string) (string, error) {
	password, err := keyring.Get(k.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return password, err
}

// DeletePassword removes the stored password.
func (k *Keyring) DeletePassword(account string) error {
	err := keyring.Delete(k.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
