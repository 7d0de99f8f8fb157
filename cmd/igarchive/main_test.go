package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/instagram"
	"igarchive/pkg/logger"
)

func testPrompter(input string) (*prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	p := &prompter{in: bufio.NewReader(strings.NewReader(input)), out: out}
	p.secret = p.line
	return p, out
}

func TestChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addSyncFlags(cmd.Flags())
	cmd.Flags().String("base-dir", "", "")

	require.NoError(t, cmd.ParseFlags([]string{"--limit", "5", "--full-resync", "--base-dir", "/tmp/ig"}))
	flags := changedFlags(cmd.Flags())

	assert.Equal(t, map[string]interface{}{
		"limit":       5,
		"full-resync": true,
		"base-dir":    "/tmp/ig",
	}, flags)

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 5, cfg.Sync.Limit)
	assert.True(t, cfg.Sync.FullResync)
	assert.False(t, cfg.Sync.DisableEarlyStop)
	assert.Equal(t, "/tmp/ig", cfg.Archive.BaseDirectory)
}

func TestAccountNames(t *testing.T) {
	base := t.TempDir()
	for _, dir := range []string{"alice", "bob.b", ".git", "not valid"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, dir), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(base, "accounts.json"), []byte("[]"), 0644))

	names, err := accountNames(base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob.b"}, names)

	names, err = accountNames(filepath.Join(base, "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestArchiveMissing(t *testing.T) {
	base := t.TempDir()
	assert.True(t, archiveMissing(base))
	assert.True(t, archiveMissing(filepath.Join(base, "nope")))

	require.NoError(t, os.Mkdir(filepath.Join(base, "alice"), 0755))
	assert.False(t, archiveMissing(base))
}

func TestPrompter(t *testing.T) {
	p, out := testPrompter("jane\n\nyes\nlast")

	answer, err := p.ask("Name: ")
	require.NoError(t, err)
	assert.Equal(t, "jane", answer)
	assert.Equal(t, "Name: ", out.String())

	assert.True(t, p.confirm("Sure? ", true), "empty answer takes the default")
	assert.True(t, p.confirm("Sure? ", false))

	answer, err = p.askSecret("Secret: ")
	require.NoError(t, err)
	assert.Equal(t, "last", answer)

	_, err = p.ask("More: ")
	assert.Error(t, err)
	assert.False(t, p.confirm("Sure? ", false))
}

func TestUsernameArg(t *testing.T) {
	p, _ := testPrompter("@Jane_Doe\n")
	name, err := usernameArg(p, nil)
	require.NoError(t, err)
	assert.Equal(t, "jane_doe", name)

	name, err = usernameArg(p, []string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", name)

	_, err = usernameArg(p, []string{"not valid"})
	assert.True(t, errs.Is(err, errs.ErrorTypeSetup))
}

// instagramServer answers the login, two-factor and current-user calls
// for the account jane (password "right", code 123456, id 42).
func instagramServer(t *testing.T, twoFactor bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(instagram.LoginPageEndpoint, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf", Path: "/"})
	})
	mux.HandleFunc(instagram.LoginEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		enc := r.PostForm.Get("enc_password")
		if !strings.HasSuffix(enc, ":right") {
			w.Write([]byte(`{"authenticated":false,"user":true,"status":"ok"}`))
			return
		}
		if twoFactor {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"two_factor_required":true,"two_factor_info":{"two_factor_identifier":"ident"},"status":"fail"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "ds_user_id", Value: "42", Path: "/"})
		w.Write([]byte(`{"authenticated":true,"user":true,"userId":"42","status":"ok"}`))
	})
	mux.HandleFunc(instagram.TwoFactorEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("verificationCode") != "123456" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"Please check the security code and try again.","status":"fail"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-2fa", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "ds_user_id", Value: "42", Path: "/"})
		w.Write([]byte(`{"authenticated":true,"user":true,"status":"ok"}`))
	})
	mux.HandleFunc(instagram.CurrentUserEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionid"); err != nil || c.Value != "sess" {
			w.Write([]byte(`{"user":null}`))
			return
		}
		w.Write([]byte(`{"user":{"pk":42,"username":"jane"},"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Instagram.BaseURL = baseURL
	cfg.Instagram.Timeout = 5 * time.Second
	cfg.RateLimit.RequestsPerMinute = 600
	cfg.RateLimit.BurstSize = 50
	return cfg
}

func TestLogin(t *testing.T) {
	srv := instagramServer(t, false)
	client := instagram.NewClientFromConfig(testConfig(srv.URL), logger.NewNopLogger())
	p, out := testPrompter("")

	session, err := login(context.Background(), client, p, "jane", "right")
	require.NoError(t, err)
	assert.Equal(t, "jane", session.Username)
	assert.Equal(t, "sess", session.SessionID)
	assert.Empty(t, out.String(), "no security code asked")

	_, err = login(context.Background(), client, p, "jane", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Login failed: wrong password.", loginMessage(err))
}

func TestLoginWithTwoFactor(t *testing.T) {
	srv := instagramServer(t, true)
	client := instagram.NewClientFromConfig(testConfig(srv.URL), logger.NewNopLogger())

	p, out := testPrompter("123456\n")
	session, err := login(context.Background(), client, p, "jane", "right")
	require.NoError(t, err)
	assert.Equal(t, "sess-2fa", session.SessionID)
	assert.Contains(t, out.String(), "Security code: ")

	p, _ = testPrompter("000000\n")
	_, err = login(context.Background(), client, p, "jane", "right")
	require.Error(t, err)
	assert.Equal(t, "Login failed: Please check the security code and try again.", loginMessage(err))
}

func TestLoginMessage(t *testing.T) {
	assert.Equal(t, "Instagram is rate limiting requests. Try again later.",
		loginMessage(errs.New(errs.ErrorTypeRateLimit, "too many login attempts")))
	assert.Contains(t, loginMessage(errs.New(errs.ErrorTypeCheckpointRequired, "checkpoint")), "confirm this login")
	assert.Equal(t, "Login failed: wrong username or password.",
		loginMessage(&errs.Error{Type: errs.ErrorTypeBadCredentials}))
	assert.Equal(t, "plain", loginMessage(errors.New("plain")))
}

func TestImportSession(t *testing.T) {
	srv := instagramServer(t, false)
	cfg := testConfig(srv.URL)

	session, err := importSession(context.Background(), cfg, "", "Cookie: csrftoken=csrf; sessionid=sess; ds_user_id=42")
	require.NoError(t, err)
	assert.Equal(t, "jane", session.Username)
	assert.Equal(t, "42", session.UserID)

	_, err = importSession(context.Background(), cfg, "jane", "sessionid=stale; ds_user_id=42")
	assert.True(t, errs.Is(err, errs.ErrorTypeAuth))

	_, err = importSession(context.Background(), cfg, "jane", "csrftoken=only")
	assert.True(t, errs.Is(err, errs.ErrorTypeSetup))
}

func TestDisplayConfigMasksSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.APISecret = "s3cret"

	shown := displayConfig(cfg)
	assert.Equal(t, "********", shown.Server.APISecret)
	assert.Equal(t, "s3cret", cfg.Server.APISecret)
}
