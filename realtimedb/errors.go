package realtimedb

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrInvalidArgument = errors.New("invalid argument")

var (
	ErrInvalidPathSegment = fmt.Errorf("%w: invalid path segment", ErrInvalidArgument)
	ErrInvalidLimit       = fmt.Errorf("%w: limit must be a positive integer", ErrInvalidArgument)
	ErrInvalidJSON        = fmt.Errorf("%w: body is not valid json", ErrInvalidArgument)
	ErrInvalidEndpoint    = fmt.Errorf("%w: endpoint must be an absolute http(s) url", ErrInvalidArgument)
	ErrInvalidOperation   = fmt.Errorf("%w: unknown operation", ErrInvalidArgument)
	ErrNilListener        = fmt.Errorf("%w: listener must not be nil", ErrInvalidArgument)
	ErrInvalidPushKey     = fmt.Errorf("%w: not a push key", ErrInvalidArgument)
)

var ErrTransport = errors.New("transport failed")
var ErrParse = errors.New("parsing response failed")
var ErrAuthRequired = errors.New("authentication required")
var ErrAuthExpired = errors.New("authentication expired")
var ErrClientClosed = errors.New("client is closed")

// StatusError is returned for responses outside the 2xx range.
//
// It unwraps to ErrAuthRequired or ErrAuthExpired for 401 responses, depending on whether a token was sent,
// and to ErrTransport otherwise, so callers can use errors.Is for the taxonomy and errors.As for details.
type StatusError struct {
	StatusCode int
	Message    string
	Body       []byte
	tokenSent  bool
}

// NewStatusError builds a StatusError. The message is usually extracted from the {"error": "..."} body.
func NewStatusError(statusCode int, message string, body []byte, tokenSent bool) *StatusError {
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return &StatusError{
		StatusCode: statusCode,
		Message:    message,
		Body:       body,
		tokenSent:  tokenSent,
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		if e.tokenSent {
			return ErrAuthExpired
		}

		return ErrAuthRequired
	}

	return ErrTransport
}
