package integrations

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProviderType  = errors.New("invalid provider type")
	ErrProviderNotSupported = errors.New("provider not supported")
	ErrDuplicateProvider    = errors.New("provider already registered")
	ErrInvalidRegistration  = errors.New("invalid provider registration")
	ErrProbeNotSupported    = errors.New("provider does not support connection probes")
	ErrRenewNotSupported    = errors.New("provider does not support token renewal")

	// ErrInvalidSecret is returned when a secret does not match the variant its
	// provider stores, or fails field validation.
	ErrInvalidSecret = errors.New("invalid credential secret")
	// ErrSecretKindMismatch is returned when a secret of one variant is handed
	// to a provider that expects another.
	ErrSecretKindMismatch = errors.New("credential secret has the wrong kind for this provider")
)

// maxBodyInError bounds how much of a provider response body is echoed in Error().
const maxBodyInError = 256

// APIError is the failure surface of every provider call. StatusCode is 0 when
// no HTTP response was received; Transport is true for network-level failures
// (DNS, connection refused, TLS, timeouts).
type APIError struct {
	StatusCode int
	Message    string
	Body       string
	Transport  bool
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		body := e.Body
		if len(body) > maxBodyInError {
			body = body[:maxBodyInError]
		}
		msg += ": " + body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates an error for a provider response with an HTTP status.
func NewAPIError(statusCode int, message, body string) *APIError {
	return &APIError{StatusCode: statusCode, Message: message, Body: body}
}

// NewTransportError creates an error for a call that never produced an HTTP response.
func NewTransportError(message string, err error) *APIError {
	return &APIError{Message: message, Transport: true, Err: err}
}
