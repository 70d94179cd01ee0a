package callkit

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotConnected   ErrorType = "not_connected_error"
	ErrCallActive     ErrorType = "call_active_error"
	ErrCallEnded      ErrorType = "call_ended_error"
	ErrAPI            ErrorType = "api_error"
)

// Error represents a canonical SDK error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewNotConnectedError creates an error reporting a send attempted while the
// socket is not in the connected state.
func NewNotConnectedError(message string) *Error {
	return &Error{Type: ErrNotConnected, Message: message}
}

// NewCallActiveError creates an error reporting that a call is already active
// on this client.
func NewCallActiveError(message string) *Error {
	return &Error{Type: ErrCallActive, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// IsNotConnected reports whether err is a not-connected send failure.
func IsNotConnected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrNotConnected
}

// TransportError represents HTTP or WebSocket transport-level failures (DNS,
// timeouts, connection reset, TLS handshake, etc.) while talking to the call
// peer.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical API errors (*Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
