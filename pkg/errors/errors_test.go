package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "rate_limit error: too many requests (code 429)",
		(&Error{Type: ErrorTypeRateLimit, Message: "too many requests", Code: 429}).Error())

	cause := stderrors.New("dial tcp: timeout")
	err := Wrap(cause, ErrorTypeNetwork, "fetch saved page")
	assert.Equal(t, "network error: fetch saved page: dial tcp: timeout", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, ErrorTypeMirror, "push"))
}

func TestTypeOf(t *testing.T) {
	inner := New(ErrorTypeTwoFactorRequired, "2fa")
	wrapped := fmt.Errorf("login: %w", inner)

	assert.Equal(t, ErrorTypeTwoFactorRequired, TypeOf(wrapped))
	assert.True(t, Is(wrapped, ErrorTypeTwoFactorRequired))
	assert.False(t, Is(wrapped, ErrorTypeAuth))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(stderrors.New("plain")))
	assert.False(t, Is(nil, ErrorTypeUnknown))
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError}
	for _, typ := range retryable {
		assert.True(t, IsRetryable(typ), typ)
	}
	notRetryable := []ErrorType{
		ErrorTypeAuth, ErrorTypeBadCredentials, ErrorTypeTwoFactorRequired,
		ErrorTypeParsing, ErrorTypeNotFound, ErrorTypeSetup, ErrorTypeUnknown,
	}
	for _, typ := range notRetryable {
		assert.False(t, IsRetryable(typ), typ)
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	tests := map[int]bool{
		0: true, 429: true, 500: true, 502: true, 599: true,
		400: false, 401: false, 403: false, 404: false, 200: false,
	}
	for code, want := range tests {
		assert.Equal(t, want, IsRetryableStatusCode(code), "status %d", code)
	}
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(New(ErrorTypeRateLimit, "429")), "Try again later")
	assert.Contains(t, UserMessage(New(ErrorTypeBadCredentials, "x")), "wrong username or password")
	assert.Contains(t, UserMessage(New(ErrorTypeSetup, "no session")), "Setup failed")
	assert.Equal(t, "plain", UserMessage(stderrors.New("plain")))
}
