// Package connection decides whether a provider failure means the stored
// credentials are dead, and applies the resulting disconnect to the store.
package connection

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/connector-hub/connector-hub/internal/integrations"
	"github.com/connector-hub/connector-hub/internal/telemetry"
)

// transientPatterns always win: a message matching one of these is never a
// credential failure, whatever the status code.
var transientPatterns = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"connection refused",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"network error",
	"dns",
	"could not resolve",
	"connection reset",
	"ssl",
	"tls",
}

// credentialPatterns mark a message as a credential failure when nothing
// earlier in the precedence order decided.
var credentialPatterns = []string{
	"unauthorized",
	"invalid_grant",
	"invalid_client",
	"access_denied",
	"token expired",
	"token revoked",
	"aadsts",
	"consent_required",
	"api token",
	"authentication failed",
	"invalid credentials",
	"invalid api key",
	"invalid api token",
}

// ForbiddenRule decides whether a 403 body (lowercased) signals dead credentials.
type ForbiddenRule func(body string) bool

func containsAny(patterns ...string) ForbiddenRule {
	return func(body string) bool {
		return matchesAny(body, patterns)
	}
}

// DefaultForbiddenRules is the per-provider 403 policy. Providers without an
// entry never disconnect on a bare 403.
var DefaultForbiddenRules = map[integrations.ProviderType]ForbiddenRule{
	integrations.ProviderSharePoint: containsAny("consent", "aadsts", "invalid_grant"),
	integrations.ProviderJira:       containsAny("api token", "permission denied for api"),
	integrations.ProviderConfluence: containsAny("api token", "permission denied for api"),
	integrations.ProviderGitLab:     containsAny("insufficient_scope", "forbidden"),
	integrations.ProviderSAPC4C:     containsAny("not authorized"),
}

// Failure is the provider error surface fed to the classifier.
type Failure struct {
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Body       string
	Transport  bool
}

// Classifier maps provider failures to a dead-credential verdict.
type Classifier struct {
	forbidden map[integrations.ProviderType]ForbiddenRule
}

// NewClassifier creates a classifier with the default 403 policy.
func NewClassifier() *Classifier {
	return NewClassifierWithRules(DefaultForbiddenRules)
}

// NewClassifierWithRules creates a classifier with a custom 403 policy table.
func NewClassifierWithRules(rules map[integrations.ProviderType]ForbiddenRule) *Classifier {
	copied := make(map[integrations.ProviderType]ForbiddenRule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Classifier{forbidden: copied}
}

// IsCredentialFailure applies the precedence order:
// transient message, transport error, 401, provider 403 rule, 5xx, credential message.
func (c *Classifier) IsCredentialFailure(providerType integrations.ProviderType, status int, message string, transport bool) bool {
	return c.classify(providerType, Failure{StatusCode: status, Message: message, Transport: transport})
}

// Check classifies a full failure, letting 403 rules see the response body.
func (c *Classifier) Check(providerType integrations.ProviderType, f Failure) bool {
	verdict := c.classify(providerType, f)
	telemetry.RecordClassifierVerdict(providerType.String(), verdict)
	return verdict
}

// Classify converts err to a Failure and classifies it.
func (c *Classifier) Classify(providerType integrations.ProviderType, err error) bool {
	return c.Check(providerType, FailureFromError(err))
}

func (c *Classifier) classify(providerType integrations.ProviderType, f Failure) bool {
	msg := strings.ToLower(strings.TrimSpace(f.Message + " " + f.Body))

	if matchesAny(msg, transientPatterns) {
		return false
	}
	if f.Transport {
		return false
	}
	switch {
	case f.StatusCode == http.StatusUnauthorized:
		return true
	case f.StatusCode == http.StatusForbidden:
		rule, ok := c.forbidden[providerType]
		if !ok {
			return false
		}
		return rule(msg)
	case f.StatusCode >= 500:
		return false
	}
	return matchesAny(msg, credentialPatterns)
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// FailureFromError builds a Failure from any error returned by a provider call.
// For an APIError only the provider-supplied message and body are kept; the
// wrapped client error can carry the request URL.
func FailureFromError(err error) Failure {
	if err == nil {
		return Failure{}
	}
	var apiErr *integrations.APIError
	if errors.As(err, &apiErr) {
		return Failure{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Body:       apiErr.Body,
			Transport:  apiErr.Transport,
		}
	}
	f := Failure{Message: err.Error()}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		f.Transport = true
	}
	return f
}
