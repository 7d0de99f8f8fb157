package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore implements CredentialStore using an encrypted file
type EncryptedFileStore struct {
	filepath   string
	passphrase string
	mu         sync.RWMutex
}

// encryptedData is the decrypted content of the file
type encryptedData struct {
	Salt     string
	Sessions map[string]Session
}

// NewEncryptedFileStore creates an encrypted file store. The key is
// derived from IGARCHIVE_PASSPHRASE, or from a random passphrase kept in
// a .passphrase file next to filePath.
func NewEncryptedFileStore(filePath string) (*EncryptedFileStore, error) {
	if err := ensureDir(filePath); err != nil {
		return nil, err
	}

	store := &EncryptedFileStore{filepath: filePath}
	passphrase, err := store.getPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	store.passphrase = passphrase
	return store, nil
}

// NewEncryptedFileStoreWithPassphrase uses passphrase as given
func NewEncryptedFileStoreWithPassphrase(filePath, passphrase string) (*EncryptedFileStore, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if err := ensureDir(filePath); err != nil {
		return nil, err
	}
	return &EncryptedFileStore{filepath: filePath, passphrase: passphrase}, nil
}

func ensureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return nil
}

// Store saves a session to the encrypted file
func (e *EncryptedFileStore) Store(session *Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if session == nil || session.Username == "" {
		return ErrInvalidCredentials
	}

	data, err := e.loadData()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load existing data: %w", err)
	}

	if data == nil {
		data = &encryptedData{Sessions: make(map[string]Session)}
	}
	data.Sessions[session.Username] = *session

	return e.saveData(data)
}

// Retrieve gets a session from the encrypted file
func (e *EncryptedFileStore) Retrieve(username string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if username == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := e.loadData()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	session, exists := data.Sessions[username]
	if !exists {
		return nil, ErrCredentialsNotFound
	}
	return &session, nil
}

// List returns all stored sessions
func (e *EncryptedFileStore) List() ([]*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	data, err := e.loadData()
	if err != nil {
		if os.IsNotExist(err) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	sessions := make([]*Session, 0, len(data.Sessions))
	for _, session := range data.Sessions {
		s := session
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

// Delete removes a session from the encrypted file
func (e *EncryptedFileStore) Delete(username string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if username == "" {
		return ErrInvalidCredentials
	}

	data, err := e.loadData()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to load data: %w", err)
	}

	if _, exists := data.Sessions[username]; !exists {
		return ErrCredentialsNotFound
	}
	delete(data.Sessions, username)

	if len(data.Sessions) == 0 {
		return os.Remove(e.filepath)
	}

	return e.saveData(data)
}

func (e *EncryptedFileStore) Exists(username string) bool {
	session, err := e.Retrieve(username)
	return err == nil && session != nil
}

// sealedFile is the on-disk layout: a salt and the AES-GCM sealed
// session map, both base64.
type sealedFile struct {
	Version   int       `json:"version"`
	Salt      string    `json:"salt"`
	Encrypted string    `json:"encrypted"`
	Modified  time.Time `json:"modified"`
}

func (e *EncryptedFileStore) key(salt []byte) []byte {
	return pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
}

func (e *EncryptedFileStore) loadData() (*encryptedData, error) {
	content, err := os.ReadFile(e.filepath)
	if err != nil {
		return nil, err
	}

	var file sealedFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(file.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted data: %w", err)
	}

	plain, err := decrypt(sealed, e.key(salt))
	if err != nil {
		// a wrong passphrase ends up here too
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}

	data := &encryptedData{Salt: file.Salt}
	if err := json.Unmarshal(plain, &data.Sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}
	if data.Sessions == nil {
		data.Sessions = make(map[string]Session)
	}
	return data, nil
}

// saveData seals the sessions with the file's salt, creating one on first
// write, and replaces the file in one rename.
func (e *EncryptedFileStore) saveData(data *encryptedData) error {
	if data.Salt == "" {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		data.Salt = base64.StdEncoding.EncodeToString(salt)
	}
	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return fmt.Errorf("failed to decode salt: %w", err)
	}

	plain, err := json.Marshal(data.Sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	sealed, err := encrypt(plain, e.key(salt))
	if err != nil {
		return fmt.Errorf("failed to encrypt data: %w", err)
	}

	content, err := json.MarshalIndent(sealedFile{
		Version:   1,
		Salt:      data.Salt,
		Encrypted: base64.StdEncoding.EncodeToString(sealed),
		Modified:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal file data: %w", err)
	}
	return replaceFile(e.filepath, content)
}

// replaceFile writes content to a temporary file beside path and renames
// it over path. os.CreateTemp opens with mode 0600.
func replaceFile(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// getPassphrase returns IGARCHIVE_PASSPHRASE when set. Otherwise it reads
// the .passphrase file next to the store, creating it on first use.
func (e *EncryptedFileStore) getPassphrase() (string, error) {
	if pass := os.Getenv("IGARCHIVE_PASSPHRASE"); pass != "" {
		return pass, nil
	}

	passphraseFile := filepath.Join(filepath.Dir(e.filepath), ".passphrase")
	if content, err := os.ReadFile(passphraseFile); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(passphraseFile, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encrypt seals plaintext with AES-GCM, prefixing the random nonce
func encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(sealed, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], nil)
}
