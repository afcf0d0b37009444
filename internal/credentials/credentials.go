// Package credentials stores the remote service auth token in the OS keyring.
package credentials

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

// Service is the keyring service name under which tokens are stored.
const Service = "notesync"

// Keyring abstracts token storage so tests can substitute an in-memory
// implementation.
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// systemKeyring uses the operating system keyring.
type systemKeyring struct{}

var _ Keyring = (*systemKeyring)(nil)

// NewSystemKeyring returns a Keyring backed by the OS credential store.
func NewSystemKeyring() Keyring {
	return &systemKeyring{}
}

func (s *systemKeyring) Set(service, account, password string) error {
	if err := keyring.Set(service, account, password); err != nil {
		return fmt.Errorf("storing credential for %s/%s: %w", service, account, err)
	}
	return nil
}

func (s *systemKeyring) Get(service, account string) (string, error) {
	password, err := keyring.Get(service, account)
	if err != nil {
		return "", fmt.Errorf("reading credential for %s/%s: %w", service, account, err)
	}
	return password, nil
}

func (s *systemKeyring) Delete(service, account string) error {
	if err := keyring.Delete(service, account); err != nil {
		return fmt.Errorf("deleting credential for %s/%s: %w", service, account, err)
	}
	return nil
}
