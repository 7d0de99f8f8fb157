package ui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"igarchive/pkg/syncer"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(ctx context.Context, title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(ctx context.Context, title, message string) error {
	return exec.CommandContext(ctx, "notify-send", "--app-name=igarchive", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(`display notification %s with title %s`, appleScriptString(message), appleScriptString(title))
	return exec.CommandContext(ctx, "osascript", "-e", script).Run()
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("igarchive").Show($toast)
	`, xmlEscape(title), xmlEscape(message))

	return exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// Notifier sends desktop notifications when a sync ends
type Notifier struct {
	sender  NotificationSender
	timeout time.Duration
}

// NewNotifier creates a new Notifier based on the current platform
func NewNotifier() *Notifier {
	var sender NotificationSender

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	case "windows":
		sender = &WindowsNotificationSender{}
	}

	return NewNotifierWithSender(sender)
}

// NewNotifierWithSender creates a Notifier delivering through sender; a
// nil sender makes every notification a no-op
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender, timeout: 5 * time.Second}
}

// Send delivers one notification. Desktop notifications are best effort,
// so the error is only for logging.
func (n *Notifier) Send(title, message string) error {
	if n == nil || n.sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	return n.sender.Send(ctx, title, message)
}

// NotifyOutcome announces the result of a pass over account
func (n *Notifier) NotifyOutcome(account string, outcome *syncer.Outcome, syncErr error) error {
	if syncErr != nil {
		return n.Send("igarchive: sync failed", fmt.Sprintf("@%s: %v", account, syncErr))
	}
	if outcome == nil {
		return nil
	}
	return n.Send("igarchive: sync finished", OutcomeMessage(account, outcome))
}

// OutcomeMessage is the one-line description of a pass used in notifications
func OutcomeMessage(account string, outcome *syncer.Outcome) string {
	msg := fmt.Sprintf("@%s: %d new saved posts archived", account, len(outcome.NewItems))
	if len(outcome.NewItems) == 1 {
		msg = fmt.Sprintf("@%s: 1 new saved post archived", account)
	}
	if outcome.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", outcome.Failed)
	}
	return msg
}
