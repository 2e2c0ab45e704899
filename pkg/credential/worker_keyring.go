// Package credential keeps the mailbox secret in the OS keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "vitalred"

var ErrNotFound = errors.New("credential not found")

// Store reads and writes mailbox secrets keyed by account.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the first available system keyring.
func Open() (*Store, error) {
	dir := "~/.config/vitalred/credentials"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", "vitalred", "credentials")
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("vitalred-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func (s *Store) Get(account string) (string, error) {
	item, err := s.ring.Get(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", account, err)
	}
	return string(item.Data), nil
}

func (s *Store) Set(account, secret string) error {
	err := s.ring.Set(keyring.Item{
		Key:         account,
		Data:        []byte(secret),
		Label:       "VITAL RED mailbox " + account,
		Description: "mailbox password",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", account, err)
	}
	return nil
}

func (s *Store) Delete(account string) error {
	err := s.ring.Remove(account)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", account, err)
	}
	return nil
}

// Resolve prefers an explicitly configured secret and falls back to the
// keyring entry for account.
func Resolve(configured, account string, s *Store) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if s == nil {
		return "", ErrNotFound
	}
	return s.Get(account)
}
