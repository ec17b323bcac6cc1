package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxProbeBody is how much of an error response body is kept for classification.
const maxProbeBody = 4096

// ReadErrorBody reads at most maxProbeBody bytes of an error response body.
func ReadErrorBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	return strings.TrimSpace(string(data))
}

// ResponseError converts a provider response (possibly nil) plus client error
// into an *APIError. A nil response means the request never completed.
func ResponseError(message string, resp *http.Response, err error) *APIError {
	if resp == nil {
		return NewTransportError(message, err)
	}
	apiErr := NewAPIError(resp.StatusCode, message, ReadErrorBody(resp))
	apiErr.Err = err
	return apiErr
}

// DoProbe sends req and treats any non-2xx response as an *APIError.
func DoProbe(client *http.Client, req *http.Request, message string) error {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return NewTransportError(message, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewAPIError(resp.StatusCode, message, ReadErrorBody(resp))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBody))
	return nil
}

// NewProbeRequest builds a GET request for a probe endpoint.
func NewProbeRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
