package tokens

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/connector-hub/connector-hub/internal/integrations"
)

var (
	// ErrNoRefreshToken means the stored envelope cannot be refreshed; only a
	// fresh interactive authorization can recover the instance.
	ErrNoRefreshToken = errors.New("no refresh token stored, reauthorization required")
	// ErrProviderRejected means the provider explicitly refused the refresh.
	ErrProviderRejected = errors.New("provider rejected the token refresh")
	// ErrNetwork means the refresh failed transiently and may be retried later.
	ErrNetwork = errors.New("token refresh failed transiently")
	// ErrInstanceNotFound means the instance was deleted while being refreshed.
	ErrInstanceNotFound = errors.New("credential instance no longer exists")
)

// ErrorKind classifies a failed refresh.
type ErrorKind int

const (
	KindNoRefreshToken ErrorKind = iota + 1
	KindProviderRejected
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoRefreshToken:
		return "no_refresh_token"
	case KindProviderRejected:
		return "provider_rejected"
	case KindNetwork:
		return "network_error"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindNoRefreshToken:
		return ErrNoRefreshToken
	case KindProviderRejected:
		return ErrProviderRejected
	default:
		return ErrNetwork
	}
}

// RefreshError is returned by the manager for every failed refresh. Callers
// branch on Kind (or errors.Is against the sentinels); Err is the provider error.
type RefreshError struct {
	Kind       ErrorKind
	InstanceID string
	Provider   string
	Err        error
}

func (e *RefreshError) Error() string {
	msg := fmt.Sprintf("refresh %s instance %s: %s", e.Provider, e.InstanceID, e.Kind.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *RefreshError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// kindOf decides whether a refresh function's error is a rejection or a
// transient failure. Anything that is not clearly a provider refusal is
// treated as transient.
func kindOf(err error) ErrorKind {
	var apiErr *integrations.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Transport, apiErr.StatusCode == 0:
			return KindNetwork
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return KindNetwork
		default:
			return KindProviderRejected
		}
	}
	// Timeouts, network errors and anything unrecognised.
	return KindNetwork
}
