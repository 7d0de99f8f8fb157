package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Session is an authenticated Instagram web session, identified by the
// sessionid and ds_user_id cookies.
type Session struct {
	Username     string    `json:"username"`
	UserID       string    `json:"ds_user_id"`
	SessionID    string    `json:"sessionid"`
	CSRFToken    string    `json:"csrftoken,omitempty"`
	MID          string    `json:"mid,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks that the cookies needed for authenticated calls are set
func (s *Session) Validate() error {
	if s == nil {
		return ErrInvalidCredentials
	}
	var missing []string
	if s.SessionID == "" {
		missing = append(missing, "sessionid")
	}
	if s.UserID == "" {
		missing = append(missing, "ds_user_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Cookies returns the session as request cookies
func (s *Session) Cookies() []*http.Cookie {
	cookies := []*http.Cookie{
		{Name: "sessionid", Value: s.SessionID},
		{Name: "ds_user_id", Value: s.UserID},
	}
	if s.CSRFToken != "" {
		cookies = append(cookies, &http.Cookie{Name: "csrftoken", Value: s.CSRFToken})
	}
	if s.MID != "" {
		cookies = append(cookies, &http.Cookie{Name: "mid", Value: s.MID})
	}
	return cookies
}

// ErrIncompleteCookies is returned by ParseCookieHeader when sessionid or
// ds_user_id is absent
var ErrIncompleteCookies = errors.New("cookie header lacks sessionid or ds_user_id")

// ParseCookieHeader builds a session from a browser "Cookie:" header value,
// as copied from the developer tools. A leading "Cookie:" is accepted.
func ParseCookieHeader(username, header string) (*Session, error) {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "cookie:") {
		header = strings.TrimSpace(header[7:])
	}

	values := map[string]string{}
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if unescaped, err := url.QueryUnescape(value); err == nil && name != "sessionid" {
			value = unescaped
		}
		values[strings.TrimSpace(name)] = value
	}

	s := &Session{
		Username:     username,
		UserID:       values["ds_user_id"],
		SessionID:    values["sessionid"],
		CSRFToken:    values["csrftoken"],
		MID:          values["mid"],
		LastModified: time.Now(),
	}
	if s.SessionID == "" || s.UserID == "" {
		return nil, ErrIncompleteCookies
	}
	return s, nil
}

// Sanitize returns a copy with secrets masked, for display
func Sanitize(s *Session) *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.SessionID = maskString(s.SessionID)
	c.CSRFToken = maskString(s.CSRFToken)
	return &c
}

// maskString keeps the first and last four characters
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
