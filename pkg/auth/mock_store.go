package auth

import (
	"sync"
)

// MockStore implements CredentialStore in memory for tests
type MockStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	// Error injection
	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

func NewMockStore() *MockStore {
	return &MockStore{sessions: make(map[string]*Session)}
}

func (m *MockStore) Store(session *Session) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if session == nil || session.Username == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := *session
	m.sessions[session.Username] = &c
	return nil
}

func (m *MockStore) Retrieve(username string) (*Session, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[username]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	c := *s
	return &c, nil
}

func (m *MockStore) List() ([]*Session, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		c := *s
		out = append(out, &c)
	}
	return out, nil
}

func (m *MockStore) Delete(username string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	if username == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.sessions, username)
	return nil
}

func (m *MockStore) Exists(username string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[username]
	return ok
}

// Count returns the number of stored sessions
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// NewMockManager creates a Manager backed by a single MockStore
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}
