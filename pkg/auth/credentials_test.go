package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func testSession(username string) *Session {
	return &Session{
		Username:  username,
		UserID:    "1234567",
		SessionID: "1234567%3AabcDEF%3A12%3AAYd",
		CSRFToken: "YTQHujAgMhyveLvvuwCfw9CPI8ROAHoy",
		MID:       "Zx1AAAEAAA",
		UserAgent: "TestAgent/1.0",
	}
}

func TestManager_StoreRetrieveDelete(t *testing.T) {
	manager, store := NewMockManager()

	require.NoError(t, manager.Store(testSession("alice")))
	assert.Equal(t, 1, store.Count())

	got, err := manager.Retrieve("alice")
	require.NoError(t, err)
	assert.Equal(t, "1234567", got.UserID)
	assert.False(t, got.LastModified.IsZero())

	sessions, err := manager.List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, manager.Delete("alice"))
	_, err = manager.Retrieve("alice")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.ErrorIs(t, manager.Delete("alice"), ErrCredentialsNotFound)
}

func TestManager_StoreRejectsIncompleteSession(t *testing.T) {
	manager, _ := NewMockManager()

	s := testSession("alice")
	s.UserID = ""
	assert.ErrorIs(t, manager.Store(s), ErrInvalidCredentials)
	assert.Error(t, manager.Store(&Session{SessionID: "x", UserID: "1"}))
}

func TestManager_FallsBackToNextStore(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("keychain locked")
	fallback := NewMockStore()
	manager := NewManagerWithStores(broken, fallback)

	require.NoError(t, manager.Store(testSession("alice")))
	assert.Equal(t, 0, broken.Count())
	assert.Equal(t, 1, fallback.Count())
}

func TestManager_ListPrefersNewestCopy(t *testing.T) {
	older, newer := NewMockStore(), NewMockStore()
	a := testSession("alice")
	a.LastModified = time.Now().Add(-time.Hour)
	a.SessionID = "old-session-value"
	require.NoError(t, older.Store(a))
	b := testSession("alice")
	b.LastModified = time.Now()
	require.NoError(t, newer.Store(b))
	c := testSession("bob")
	c.LastModified = time.Now().Add(-2 * time.Hour)
	require.NoError(t, older.Store(c))

	sessions, err := NewManagerWithStores(older, newer).List()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "alice", sessions[0].Username)
	assert.Equal(t, b.SessionID, sessions[0].SessionID)
}

func TestManager_RetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv("IGARCHIVE_SESSION_ID", "env-session")
	t.Setenv("IGARCHIVE_DS_USER_ID", "99")
	t.Setenv("IGARCHIVE_USERNAME", "envuser")

	store := NewMockStore()
	require.NoError(t, store.Store(testSession("alice")))
	manager := NewManagerWithStores(store, NewEnvironmentStore())

	s, err := manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "envuser", s.Username)
	assert.Equal(t, "99", s.UserID)
}

func TestEncryptedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.enc")
	t.Setenv("IGARCHIVE_PASSPHRASE", "test_passphrase_123")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	s := testSession("encrypted_user")
	require.NoError(t, store.Store(s))

	got, err := store.Retrieve("encrypted_user")
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, got.SessionID)
	assert.True(t, store.Exists("encrypted_user"))

	content := readFile(t, path)
	assert.NotContains(t, content, s.SessionID)
	assert.NotContains(t, content, s.CSRFToken)

	wrong, err := NewEncryptedFileStoreWithPassphrase(path, "not the passphrase")
	require.NoError(t, err)
	_, err = wrong.Retrieve("encrypted_user")
	assert.Error(t, err)

	require.NoError(t, store.Delete("encrypted_user"))
	assert.NoFileExists(t, path)
}

func TestEncryptedFileStore_GeneratesPassphraseFile(t *testing.T) {
	t.Setenv("IGARCHIVE_PASSPHRASE", "")
	dir := t.TempDir()

	store, err := NewEncryptedFileStore(filepath.Join(dir, "sessions.enc"))
	require.NoError(t, err)
	require.NoError(t, store.Store(testSession("alice")))
	assert.FileExists(t, filepath.Join(dir, ".passphrase"))

	reopened, err := NewEncryptedFileStore(filepath.Join(dir, "sessions.enc"))
	require.NoError(t, err)
	_, err = reopened.Retrieve("alice")
	assert.NoError(t, err)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(testSession("bob")))
	require.NoError(t, store.Store(testSession("alice")))
	assert.True(t, store.Exists("alice"))

	sessions, err := store.List()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "alice", sessions[0].Username)

	require.NoError(t, store.Delete("alice"))
	assert.ErrorIs(t, store.Delete("alice"), ErrCredentialsNotFound)
	sessions, err = store.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestEnvironmentStore(t *testing.T) {
	store := NewEnvironmentStore()
	t.Setenv("IGARCHIVE_SESSION_ID", "")
	t.Setenv("IGARCHIVE_DS_USER_ID", "")
	t.Setenv("IGARCHIVE_USERNAME", "")

	_, err := store.Retrieve("")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	t.Setenv("IGARCHIVE_SESSION_ID", "env_session")
	t.Setenv("IGARCHIVE_DS_USER_ID", "42")
	s, err := store.Retrieve("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "env_session", s.SessionID)

	assert.ErrorIs(t, store.Store(s), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("alice"), ErrStoreUnavailable)
}

func TestParseCookieHeader(t *testing.T) {
	header := `Cookie: mid=Zx1AAAEAAA; csrftoken=abc123; ds_user_id=1234567; sessionid=1234567%3Aabc%3A12; ig_nrcb=1`
	s, err := ParseCookieHeader("alice", header)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "1234567", s.UserID)
	assert.Equal(t, "1234567%3Aabc%3A12", s.SessionID, "sessionid is kept encoded")
	assert.Equal(t, "abc123", s.CSRFToken)
	assert.Equal(t, "Zx1AAAEAAA", s.MID)

	_, err = ParseCookieHeader("alice", "csrftoken=abc; mid=x")
	assert.ErrorIs(t, err, ErrIncompleteCookies)
}

func TestSessionCookies(t *testing.T) {
	s := &Session{SessionID: "s", UserID: "1"}
	assert.Len(t, s.Cookies(), 2)
	assert.Len(t, testSession("a").Cookies(), 4)
}

func TestSanitize(t *testing.T) {
	s := testSession("alice")
	masked := Sanitize(s)
	assert.Equal(t, "alice", masked.Username)
	assert.NotEqual(t, s.SessionID, masked.SessionID)
	assert.True(t, strings.HasPrefix(masked.SessionID, s.SessionID[:4]))
	assert.Equal(t, "********", maskString("short"))
	assert.Nil(t, Sanitize(nil))
}

func TestExportRestore(t *testing.T) {
	var buf bytes.Buffer
	invalid := &Session{Username: "broken"}
	require.NoError(t, Export(&buf, []*Session{testSession("alice"), invalid}, "correct horse"))
	assert.True(t, strings.HasPrefix(buf.String(), "-----BEGIN AGE ENCRYPTED FILE-----"))
	assert.NotContains(t, buf.String(), "1234567")

	restored, err := Restore(bytes.NewReader(buf.Bytes()), "correct horse")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "alice", restored[0].Username)

	_, err = Restore(bytes.NewReader(buf.Bytes()), "wrong")
	assert.Error(t, err)

	assert.Error(t, Export(&buf, nil, ""))
}

func TestShowCookieExtractionGuide(t *testing.T) {
	var buf bytes.Buffer
	ShowCookieExtractionGuide(&buf)
	assert.Contains(t, buf.String(), "ds_user_id")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
