package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "igarchive"
	keyringPrefix  = "instagram_"
	// keyringIndex holds the usernames stored, since keychains cannot be
	// enumerated portably
	keyringIndex = "index"
)

// KeyringStore implements CredentialStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore probes the keychain and fails when it is unusable
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(session *Session) error {
	if session == nil || session.Username == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := keyring.Set(keyringService, keyringPrefix+session.Username, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	names := k.index()
	names[session.Username] = true
	return k.saveIndex(names)
}

func (k *KeyringStore) Retrieve(username string) (*Session, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, keyringPrefix+username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// List returns the sessions named in the keyring index
func (k *KeyringStore) List() ([]*Session, error) {
	names := k.index()
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	sessions := make([]*Session, 0, len(sorted))
	for _, name := range sorted {
		if s, err := k.Retrieve(name); err == nil {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

func (k *KeyringStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	err := keyring.Delete(keyringService, keyringPrefix+username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	names := k.index()
	delete(names, username)
	return k.saveIndex(names)
}

func (k *KeyringStore) Exists(username string) bool {
	if username == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+username)
	return err == nil
}

func (k *KeyringStore) index() map[string]bool {
	names := map[string]bool{}
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		return names
	}
	var list []string
	if json.Unmarshal([]byte(data), &list) == nil {
		for _, n := range list {
			names[n] = true
		}
	}
	return names
}

func (k *KeyringStore) saveIndex(names map[string]bool) error {
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	sort.Strings(list)
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}
