package auth

import (
	"os"
	"time"
)

// EnvironmentStore reads a session from IGARCHIVE_* variables. It is
// read-only.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(*Session) error {
	return ErrStoreUnavailable
}

// Retrieve builds a session from IGARCHIVE_SESSION_ID and
// IGARCHIVE_DS_USER_ID. The username comes from IGARCHIVE_USERNAME, then
// from the argument.
func (e *EnvironmentStore) Retrieve(username string) (*Session, error) {
	s := &Session{
		Username:     os.Getenv("IGARCHIVE_USERNAME"),
		SessionID:    os.Getenv("IGARCHIVE_SESSION_ID"),
		UserID:       os.Getenv("IGARCHIVE_DS_USER_ID"),
		CSRFToken:    os.Getenv("IGARCHIVE_CSRF_TOKEN"),
		MID:          os.Getenv("IGARCHIVE_MID"),
		UserAgent:    os.Getenv("IGARCHIVE_USER_AGENT"),
		LastModified: time.Now(),
	}
	if s.Validate() != nil {
		return nil, ErrCredentialsNotFound
	}
	if username != "" && s.Username != "" && s.Username != username {
		return nil, ErrCredentialsNotFound
	}
	if s.Username == "" {
		s.Username = username
	}
	if s.Username == "" {
		s.Username = "default"
	}
	return s, nil
}

func (e *EnvironmentStore) List() ([]*Session, error) {
	s, err := e.Retrieve("")
	if err != nil {
		return []*Session{}, nil
	}
	return []*Session{s}, nil
}

func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}
