package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeAuth               ErrorType = "auth"
	ErrorTypeBadCredentials     ErrorType = "bad_credentials"
	ErrorTypeTwoFactorRequired  ErrorType = "two_factor_required"
	ErrorTypeCheckpointRequired ErrorType = "checkpoint_required"
	ErrorTypeParsing            ErrorType = "parsing"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeServerError        ErrorType = "server_error"
	ErrorTypeSetup              ErrorType = "setup"
	ErrorTypeMirror             ErrorType = "mirror"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// Error is a classified error. Code carries the HTTP status when the error
// came from a remote response, 0 otherwise.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(err error, t ErrorType, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Type: t, Message: message, Err: err}
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnknown when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err's chain holds an *Error of type t
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// UserMessage renders err as a single line meant for the terminal.
func UserMessage(err error) string {
	switch TypeOf(err) {
	case ErrorTypeBadCredentials:
		return "Login failed: wrong username or password."
	case ErrorTypeTwoFactorRequired:
		return "Two-factor authentication is required for this account."
	case ErrorTypeCheckpointRequired:
		return "Instagram wants you to confirm this login in the app or browser first."
	case ErrorTypeRateLimit:
		return "Instagram is rate limiting requests. Try again later."
	case ErrorTypeNetwork:
		return "Could not reach Instagram. Check your connection and try again later."
	case ErrorTypeAuth:
		return "The saved session is no longer valid. Run 'igarchive auth login' again."
	case ErrorTypeSetup:
		return fmt.Sprintf("Setup failed: %v", err)
	default:
		return err.Error()
	}
}
