package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"igarchive/pkg/auth"
	errs "igarchive/pkg/errors"
)

// TwoFactorChallenge is carried by the error Login returns when the account
// has two-factor authentication enabled. Retrieve it with errors.As and
// pass it to TwoFactorLogin together with the code.
type TwoFactorChallenge struct {
	Username   string
	Identifier string
	cookies    map[string]string
}

func (c *TwoFactorChallenge) Error() string {
	return "two-factor code required for " + c.Username
}

// Login performs a password login and returns the resulting session. It
// never retries: a failed attempt is reported as bad credentials, a
// two-factor challenge, a checkpoint, a rate limit or a network error.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.Session, error) {
	jar := map[string]string{}

	// The login page hands out the csrftoken and mid cookies
	req, err := c.loginRequest(ctx, http.MethodGet, c.baseURL+LoginPageEndpoint, nil, jar)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}
	collectCookies(jar, resp)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &errs.Error{Type: errs.ErrorTypeRateLimit, Message: "too many login attempts", Code: resp.StatusCode}
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password))
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")

	body, status, err := c.postLoginForm(ctx, c.baseURL+LoginEndpoint, form, jar)
	if err != nil {
		return nil, err
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, c.loginStatusError(status, body)
	}

	switch {
	case lr.TwoFactorRequired && lr.TwoFactorInfo != nil:
		c.logger.InfoWithFields("two-factor authentication required", map[string]interface{}{
			"username": username,
		})
		challenge := &TwoFactorChallenge{
			Username:   username,
			Identifier: lr.TwoFactorInfo.Identifier,
			cookies:    jar,
		}
		return nil, &errs.Error{Type: errs.ErrorTypeTwoFactorRequired, Message: "two-factor authentication required", Code: status, Err: challenge}
	case lr.Authenticated:
		return c.sessionFromLogin(username, lr.UserID, jar)
	}
	return nil, classifyLoginFailure(&lr, status)
}

// TwoFactorLogin completes a login interrupted by a two-factor challenge
func (c *Client) TwoFactorLogin(ctx context.Context, challenge *TwoFactorChallenge, code string) (*auth.Session, error) {
	if challenge == nil || challenge.Identifier == "" {
		return nil, errs.New(errs.ErrorTypeSetup, "no pending two-factor login")
	}
	jar := challenge.cookies
	if jar == nil {
		jar = map[string]string{}
	}

	form := url.Values{}
	form.Set("username", challenge.Username)
	form.Set("verificationCode", strings.TrimSpace(code))
	form.Set("identifier", challenge.Identifier)
	form.Set("queryParams", "{}")

	body, status, err := c.postLoginForm(ctx, c.baseURL+TwoFactorEndpoint, form, jar)
	if err != nil {
		return nil, err
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, c.loginStatusError(status, body)
	}
	if lr.Authenticated {
		return c.sessionFromLogin(challenge.Username, lr.UserID, jar)
	}
	if lr.Message == "" {
		lr.Message = "invalid security code"
	}
	return nil, classifyLoginFailure(&lr, status)
}

func (c *Client) loginRequest(ctx context.Context, method, target string, body io.Reader, jar map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for name, value := range jar {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if token := jar["csrftoken"]; token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
	return req, nil
}

func (c *Client) postLoginForm(ctx context.Context, target string, form url.Values, jar map[string]string) ([]byte, int, error) {
	req, err := c.loginRequest(ctx, http.MethodPost, target, strings.NewReader(form.Encode()), jar)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	collectCookies(jar, resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errs.Wrap(err, errs.ErrorTypeNetwork, "failed to read login response")
	}
	return body, resp.StatusCode, nil
}

func (c *Client) loginStatusError(status int, body []byte) error {
	c.logger.ErrorWithFields("unexpected login response", map[string]interface{}{
		"status":       status,
		"body_preview": preview(body),
	})
	switch {
	case status == http.StatusTooManyRequests:
		return &errs.Error{Type: errs.ErrorTypeRateLimit, Message: "too many login attempts", Code: status}
	case status >= 500:
		return &errs.Error{Type: errs.ErrorTypeServerError, Message: "login service unavailable", Code: status}
	}
	return &errs.Error{Type: errs.ErrorTypeParsing, Message: "unexpected login response", Code: status}
}

func classifyLoginFailure(lr *loginResponse, status int) error {
	lower := strings.ToLower(lr.Message)
	switch {
	case lr.Message == "checkpoint_required" || lr.CheckpointURL != "":
		return &errs.Error{Type: errs.ErrorTypeCheckpointRequired, Message: "checkpoint required, confirm the login in the Instagram app", Code: status}
	case status == http.StatusTooManyRequests || lr.Spam || strings.Contains(lower, "wait a few minutes"):
		return &errs.Error{Type: errs.ErrorTypeRateLimit, Message: "too many login attempts", Code: status}
	case lr.ErrorType == "invalid_user" || (!lr.User && lr.Status == "ok"):
		return &errs.Error{Type: errs.ErrorTypeBadCredentials, Message: "user does not exist", Code: status}
	case lr.ErrorType == "bad_password" || strings.Contains(lower, "password") || (lr.User && !lr.Authenticated && lr.Status == "ok"):
		return &errs.Error{Type: errs.ErrorTypeBadCredentials, Message: "wrong password", Code: status}
	case strings.Contains(lower, "code"):
		return &errs.Error{Type: errs.ErrorTypeBadCredentials, Message: lr.Message, Code: status}
	case status >= 500:
		return &errs.Error{Type: errs.ErrorTypeServerError, Message: "login service unavailable", Code: status}
	}
	msg := lr.Message
	if msg == "" {
		msg = "login failed"
	}
	return &errs.Error{Type: errs.ErrorTypeUnknown, Message: msg, Code: status}
}

func (c *Client) sessionFromLogin(username, userID string, jar map[string]string) (*auth.Session, error) {
	s := &auth.Session{
		Username:     username,
		UserID:       jar["ds_user_id"],
		SessionID:    jar["sessionid"],
		CSRFToken:    jar["csrftoken"],
		MID:          jar["mid"],
		UserAgent:    c.headers["User-Agent"],
		LastModified: time.Now(),
	}
	if s.UserID == "" {
		s.UserID = userID
	}
	if err := s.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeAuth, "login succeeded without session cookies")
	}
	c.logger.InfoWithFields("logged in", map[string]interface{}{
		"username": username,
		"user_id":  s.UserID,
	})
	return s, nil
}

func collectCookies(jar map[string]string, resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		if cookie.Value == "" || cookie.MaxAge < 0 {
			delete(jar, cookie.Name)
			continue
		}
		jar[cookie.Name] = cookie.Value
	}
}
