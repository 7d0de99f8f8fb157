package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"igarchive/pkg/auth"
	"igarchive/pkg/config"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
	"igarchive/pkg/ratelimit"
	"igarchive/pkg/retry"
)

// DefaultUserAgent is sent when neither the session nor the configuration
// names one
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Client represents an Instagram API client
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	session    *auth.Session
	limiter    ratelimit.Limiter
	retry      *retry.Config
	logger     logger.Logger
}

// NewClient creates a new Instagram API client. Requests are unpaced and
// retried with the default policy until SetLimiter and SetRetry say otherwise.
func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = log

	return &Client{
		httpClient: &http.Client{
			Timeout:       timeout,
			CheckRedirect: stopAtLogin,
		},
		headers: map[string]string{
			"User-Agent":       DefaultUserAgent,
			"Accept":           "*/*",
			"Accept-Language":  "en-US,en;q=0.9",
			"X-IG-App-ID":      WebAppID,
			"X-Requested-With": "XMLHttpRequest",
			"Referer":          BaseURL + "/",
		},
		baseURL: BaseURL,
		limiter: ratelimit.Unlimited(),
		retry:   retryCfg,
		logger:  log,
	}
}

// NewClientFromConfig creates a client paced and retried as configured
func NewClientFromConfig(cfg *config.Config, log logger.Logger) *Client {
	c := NewClient(cfg.Instagram.Timeout, log)
	if cfg.Instagram.BaseURL != "" {
		c.SetBaseURL(cfg.Instagram.BaseURL)
	}
	if cfg.Instagram.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.Instagram.UserAgent)
	}
	c.SetLimiter(ratelimit.NewPerMinute(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize))
	c.SetRetry(retry.FromConfig(cfg.Retry, c.logger))
	return c
}

// stopAtLogin refuses to follow redirects to the login page, which is how
// Instagram answers requests carrying an expired session
func stopAtLogin(req *http.Request, via []*http.Request) error {
	if strings.HasPrefix(req.URL.Path, LoginPageEndpoint) || strings.HasPrefix(req.URL.Path, "/challenge/") {
		return http.ErrUseLastResponse
	}
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	return nil
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetHeaders sets multiple headers at once
func (c *Client) SetHeaders(headers map[string]string) {
	for key, value := range headers {
		c.headers[key] = value
	}
}

// SetBaseURL points the client at another host, typically a test server
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
	c.headers["Referer"] = c.baseURL + "/"
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// SetLimiter paces every request through l
func (c *Client) SetLimiter(l ratelimit.Limiter) {
	if l == nil {
		l = ratelimit.Unlimited()
	}
	c.limiter = l
}

// SetRetry replaces the retry policy of page and media requests
func (c *Client) SetRetry(cfg *retry.Config) {
	c.retry = cfg
}

// SetSession attaches the cookies of s to every subsequent request
func (c *Client) SetSession(s *auth.Session) {
	c.session = s
	if s != nil && s.UserAgent != "" {
		c.headers["User-Agent"] = s.UserAgent
	}
}

// Session returns the attached session, or nil
func (c *Client) Session() *auth.Session {
	return c.session
}

// BaseURL returns the host the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if c.session != nil {
		for _, cookie := range c.session.Cookies() {
			req.AddCookie(cookie)
		}
		if c.session.CSRFToken != "" {
			req.Header.Set("X-CSRFToken", c.session.CSRFToken)
		}
	}
	return req, nil
}

// doRequest waits for the limiter and performs req
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "request pacing failed")
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.Redacted(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.Redacted(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(err, errs.ErrorTypeNetwork, "network error")
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.Redacted(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON response into
// target, retrying transient failures
func (c *Client) GetJSON(ctx context.Context, url string, target interface{}) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		return c.getJSONOnce(ctx, url, target)
	}, c.retry)
}

func (c *Client) getJSONOnce(ctx context.Context, url string, target interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: "failed to read response body",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          req.URL.Redacted(),
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview(body),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "failed to parse JSON",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}
	return nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// checkResponseStatus maps the HTTP status to a classified error
func (c *Client) checkResponseStatus(resp *http.Response) error {
	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.Redacted(),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if strings.Contains(location, "/challenge/") {
			c.logger.WarnWithFields("checkpoint required", fields)
			return &errs.Error{Type: errs.ErrorTypeCheckpointRequired, Message: "checkpoint required, confirm the login in the Instagram app", Code: resp.StatusCode}
		}
		c.logger.WarnWithFields("redirected to login", fields)
		return &errs.Error{Type: errs.ErrorTypeAuth, Message: "session expired or invalid", Code: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", fields)
		return &errs.Error{Type: errs.ErrorTypeAuth, Message: "authentication required", Code: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		c.logger.WarnWithFields("resource not found", fields)
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: "resource not found", Code: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", fields)
		return &errs.Error{Type: errs.ErrorTypeRateLimit, Message: "rate limit exceeded", Code: resp.StatusCode}
	case resp.StatusCode >= 500:
		c.logger.ErrorWithFields("server error", fields)
		return &errs.Error{Type: errs.ErrorTypeServerError, Message: "server error", Code: resp.StatusCode}
	default:
		c.logger.ErrorWithFields("unexpected API error", fields)
		return &errs.Error{Type: errs.ErrorTypeUnknown, Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode), Code: resp.StatusCode}
	}
}

// CurrentUser asks Instagram whom the attached session belongs to. It is
// how an imported session is validated before it is stored.
func (c *Client) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	if err := c.session.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeAuth, "no usable session")
	}

	var resp currentUserResponse
	if err := c.getJSONOnce(ctx, currentUserURL(c.baseURL), &resp); err != nil {
		return nil, err
	}
	if resp.User == nil || resp.User.Username == "" {
		return nil, errs.New(errs.ErrorTypeAuth, "session is not logged in")
	}

	user := &CurrentUser{
		ID:       resp.User.PK.String(),
		Username: resp.User.Username,
		FullName: resp.User.FullName,
	}
	if c.session.UserID != "" && user.ID != "" && user.ID != c.session.UserID {
		return nil, errs.New(errs.ErrorTypeAuth, "session cookies belong to another account")
	}
	return user, nil
}
