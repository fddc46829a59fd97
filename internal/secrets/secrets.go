// Package secrets reads optional captive portal credentials from the OS
// keyring. The item value is "username\npassword"; portals without a
// credential step never touch the keyring.
package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "wifiwarden"

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
)

func openRing() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: serviceName,
			AllowedBackends: []keyring.BackendType{
				keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
				keyring.KeychainBackend,      // macOS Keychain
				keyring.WinCredBackend,       // Windows Credential Manager
				keyring.PassBackend,          // Pass (password-store.org)
			},
		})
	})
	return ring, ringErr
}

// Credentials is a portal username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Get retrieves the credentials stored under key. Returns (nil, nil) when
// no item exists so a credential-less portal flow can proceed.
func Get(key string) (*Credentials, error) {
	kr, err := openRing()
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := kr.Get(key)
	if err == keyring.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring item %q: %w", key, err)
	}

	return ParseCredentials(string(item.Data))
}

// Set stores credentials under key.
func Set(key string, creds Credentials) error {
	kr, err := openRing()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	return kr.Set(keyring.Item{
		Key:  key,
		Data: []byte(creds.Username + "\n" + creds.Password),
	})
}

// Delete removes the credentials stored under key.
func Delete(key string) error {
	kr, err := openRing()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	err = kr.Remove(key)
	if err == keyring.ErrKeyNotFound {
		return fmt.Errorf("no credentials stored under %q", key)
	}
	return err
}

// ParseCredentials splits a stored "username\npassword" value.
func ParseCredentials(data string) (*Credentials, error) {
	username, password, ok := strings.Cut(data, "\n")
	if !ok {
		return nil, fmt.Errorf("malformed credential item: expected username and password on separate lines")
	}
	return &Credentials{
		Username: username,
		Password: strings.TrimSuffix(password, "\n"),
	}, nil
}
