package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igarchive/pkg/auth"
	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/instagram"
	"igarchive/pkg/logger"
	"igarchive/pkg/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Instagram sessions",
	Long: `Manage the Instagram sessions igarchive syncs with.

Sessions are stored in:
  - the system keychain (when available)
  - an encrypted file (PBKDF2 + AES-GCM) otherwise
  - IGARCHIVE_SESSION_ID / IGARCHIVE_DS_USER_ID (read-only)

A session grants full access to the account. Never share it.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in with username and password",
	Long: `Log in with your Instagram password and store the resulting session.
The password itself is never stored. Accounts with two-factor
authentication are asked for the security code.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var importCmd = &cobra.Command{
	Use:   "import [username]",
	Short: "Store the session of a logged-in browser",
	Long: `Paste the Cookie header of a logged-in instagram.com browser tab. The
session is checked against Instagram before it is stored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <username>",
	Short: "Remove a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write all sessions to a passphrase-encrypted file",
	Long: `Write every stored session to an age-encrypted, ASCII-armored file,
protected by a passphrase, for moving sessions to another machine.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Store the sessions of an exported file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, importCmd, logoutCmd, listCmd, exportCmd, restoreCmd)
}

// prompter reads answers from the terminal. Secrets are read without echo
// when in is a terminal.
type prompter struct {
	in     *bufio.Reader
	out    io.Writer
	secret func() (string, error)
}

func newPrompter() *prompter {
	in := bufio.NewReader(os.Stdin)
	p := &prompter{in: in, out: os.Stdout}
	p.secret = func() (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return p.line()
		}
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		return strings.TrimSpace(string(b)), err
	}
	return p
}

func (p *prompter) line() (string, error) {
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	return p.line()
}

func (p *prompter) askSecret(question string) (string, error) {
	fmt.Fprint(p.out, question)
	return p.secret()
}

func (p *prompter) confirm(question string, def bool) bool {
	answer, err := p.ask(question)
	if err != nil || answer == "" {
		return def
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot open session store")
	}

	p := newPrompter()
	username, err := usernameArg(p, args)
	if err != nil {
		return err
	}
	if _, err := manager.Retrieve(username); err == nil {
		if !p.confirm(fmt.Sprintf("A session for %s is already stored. Replace it? (y/N): ", username), false) {
			return nil
		}
	}

	password, err := p.askSecret("Password: ")
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot read password")
	}
	if password == "" {
		return errs.New(errs.ErrorTypeSetup, "password is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	client := instagram.NewClientFromConfig(cfg, logger.GetLogger())
	session, err := login(ctx, client, p, username, password)
	if err != nil {
		return errors.New(loginMessage(err))
	}

	if err := manager.Store(session); err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot store session")
	}
	ui.PrintSuccess("Logged in as " + session.Username)
	return nil
}

// login runs the password login and, when Instagram asks for it, the
// two-factor step with a code read from p
func login(ctx context.Context, client *instagram.Client, p *prompter, username, password string) (*auth.Session, error) {
	session, err := client.Login(ctx, username, password)
	var challenge *instagram.TwoFactorChallenge
	if !errors.As(err, &challenge) {
		return session, err
	}

	fmt.Fprintln(p.out, "Two-factor authentication is enabled for this account.")
	code, err := p.ask("Security code: ")
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot read security code")
	}
	return client.TwoFactorLogin(ctx, challenge, code)
}

// loginMessage turns a login failure into the line shown to the user
func loginMessage(err error) string {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeBadCredentials:
		var e *errs.Error
		if errors.As(err, &e) && e.Message != "" {
			return "Login failed: " + strings.TrimSuffix(e.Message, ".") + "."
		}
	case errs.ErrorTypeTwoFactorRequired:
		return "Login failed: the security code was not accepted."
	}
	return errs.UserMessage(err)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot open session store")
	}

	p := newPrompter()
	var username string
	if len(args) > 0 {
		username = instagram.SanitizeUsername(args[0])
	}

	auth.ShowCookieExtractionGuide(p.out)
	header, err := p.askSecret("\nCookie header (hidden): ")
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot read cookies")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	session, err := importSession(ctx, cfg, username, header)
	if err != nil {
		return err
	}
	if err := manager.Store(session); err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot store session")
	}
	ui.PrintSuccess("Session stored for " + session.Username)
	return nil
}

// importSession parses a Cookie header and asks Instagram whom it belongs
// to. The verified username wins over the one given on the command line.
func importSession(ctx context.Context, cfg *config.Config, username, header string) (*auth.Session, error) {
	session, err := auth.ParseCookieHeader(username, header)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeSetup, "cannot use these cookies")
	}

	client := instagram.NewClientFromConfig(cfg, logger.GetLogger())
	client.SetSession(session)
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if username != "" && !strings.EqualFold(username, user.Username) {
		ui.PrintWarning(fmt.Sprintf("These cookies belong to %s, not %s", user.Username, username))
	}
	session.Username = user.Username
	return session, nil
}

func usernameArg(p *prompter, args []string) (string, error) {
	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		var err error
		if username, err = p.ask("Instagram username: "); err != nil {
			return "", errs.Wrap(err, errs.ErrorTypeSetup, "cannot read username")
		}
	}
	username = instagram.SanitizeUsername(username)
	if !instagram.IsValidUsername(username) {
		return "", errs.New(errs.ErrorTypeSetup, fmt.Sprintf("%q is not a valid Instagram username", username))
	}
	return username, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot open session store")
	}
	username := instagram.SanitizeUsername(args[0])
	if err := manager.Delete(username); err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot remove session")
	}
	ui.PrintSuccess("Removed session for " + username)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot open session store")
	}
	sessions, err := manager.List()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot list sessions")
	}
	if len(sessions) == 0 {
		ui.PrintWarning("No stored sessions. Run 'igarchive auth login' to add one.")
		return nil
	}

	ui.PrintHighlight("Stored sessions")
	for i, s := range sessions {
		masked := auth.Sanitize(s)
		marker := "  "
		if i == 0 {
			marker = ui.Green("* ")
		}
		fmt.Fprintf(ui.Output, "%s%s %s %s\n", marker, ui.Cyan(masked.Username),
			ui.Dim("id "+masked.UserID+", session "+masked.SessionID),
			ui.Dim("saved "+masked.LastModified.Format("2006-01-02 15:04")))
	}
	fmt.Fprintln(ui.Output, ui.Dim("* used when no --account is given"))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot open session store")
	}
	sessions, err := manager.List()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot list sessions")
	}
	if len(sessions) == 0 {
		return errs.New(errs.ErrorTypeSetup, "no stored sessions to export")
	}

	p := newPrompter()
	passphrase, err := p.askSecret("Passphrase: ")
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot read passphrase")
	}
	again, err := p.askSecret("Repeat passphrase: ")
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot read passphrase")
	}
	if passphrase != again {
		return errs.New(errs.ErrorTypeSetup, "passphrases do not match")
	}

	f, err := os.OpenFile(args[0], os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot create export file")
	}
	if err := auth.Export(f, sessions, passphrase); err != nil {
		f.Close()
		os.Remove(args[0])
		return errs.Wrap(err, errs.ErrorTypeSetup, "export failed")
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "export failed")
	}
	ui.PrintSuccess(fmt.Sprintf("Exported %d sessions to %s", len(sessions), args[0]))
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot open session store")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot open export file")
	}
	defer f.Close()

	passphrase, err := newPrompter().askSecret("Passphrase: ")
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "cannot read passphrase")
	}
	sessions, err := auth.Restore(f, passphrase)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "restore failed")
	}

	for _, s := range sessions {
		if err := manager.Store(s); err != nil {
			return errs.Wrap(err, errs.ErrorTypeSetup, "cannot store session for "+s.Username)
		}
		ui.PrintInfo("Restored", s.Username)
	}
	ui.PrintSuccess(fmt.Sprintf("Restored %d sessions", len(sessions)))
	return nil
}
