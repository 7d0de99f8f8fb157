// Package auth stores Instagram sessions: in the system keychain when one
// is available, in an encrypted file otherwise, and read-only from the
// environment as a last resort.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// CredentialStore is the interface for storing and retrieving sessions
type CredentialStore interface {
	Store(session *Session) error
	Retrieve(username string) (*Session, error)
	List() ([]*Session, error)
	Delete(username string) error
	Exists(username string) bool
}

// Manager handles session storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over keyring, encrypted file and
// environment stores, in that order.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "sessions.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the session in the first store that accepts it
func (m *Manager) Store(session *Session) error {
	if session == nil || session.Username == "" {
		return errors.New("username is required")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	session.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(session)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store session: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the session from the first store that has it
func (m *Manager) Retrieve(username string) (*Session, error) {
	for _, store := range m.stores {
		if session, err := store.Retrieve(username); err == nil && session != nil {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
}

// RetrieveDefault prefers environment credentials, then the most recently
// stored session.
func (m *Manager) RetrieveDefault() (*Session, error) {
	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if session, err := env.Retrieve(""); err == nil {
				return session, nil
			}
		}
	}

	sessions, err := m.List()
	if err == nil && len(sessions) > 0 {
		return sessions[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns every stored session, newest first. When several stores
// hold the same username the most recently modified copy wins.
func (m *Manager) List() ([]*Session, error) {
	byName := make(map[string]*Session)

	for _, store := range m.stores {
		sessions, err := store.List()
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if existing, ok := byName[s.Username]; !ok || s.LastModified.After(existing.LastModified) {
				byName[s.Username] = s
			}
		}
	}

	result := make([]*Session, 0, len(byName))
	for _, s := range byName {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].Username < result[j].Username
	})
	return result, nil
}

// Delete removes the session from all stores
func (m *Manager) Delete(username string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(username); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete session: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
	}
	return nil
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "igarchive")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "igarchive")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "igarchive")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "igarchive")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

var (
	ErrCredentialsNotFound = errors.New("session not found")
	ErrInvalidCredentials  = errors.New("invalid session")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
