package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowCookieExtractionGuide explains how to copy the session cookies out
// of a logged-in browser.
func ShowCookieExtractionGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	lines := []string{
		rule,
		"INSTAGRAM SESSION IMPORT",
		rule,
		"",
		"igarchive reuses the session of a browser where you are logged in.",
		"",
		"1. Open https://www.instagram.com and log in.",
		"2. Open the developer tools (F12, or Cmd+Option+I on macOS).",
		"3. Network tab: reload, click any request to instagram.com and copy",
		"   the whole 'Cookie:' request header. Paste it at the prompt.",
		"",
		"   Or, from Application (Chrome) / Storage (Firefox) > Cookies,",
		"   copy these values one by one:",
		"",
		"     sessionid    required",
		"     ds_user_id   required (numeric account id)",
		"     csrftoken    optional",
		"     mid          optional",
		"",
		"These cookies grant full access to the account. They are stored",
		"encrypted and never leave this machine unless you export them.",
		rule,
	}
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
