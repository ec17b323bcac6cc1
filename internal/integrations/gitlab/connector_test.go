package gitlab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/connector-hub/connector-hub/internal/connection"
	"github.com/connector-hub/connector-hub/internal/integrations"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Connector) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewConnector(Settings{ClientID: "test-client", ClientSecret: "test-secret", BaseURL: srv.URL}, srv.Client())
	return srv, c
}

func oauthSecret() *integrations.OAuthSecret {
	return &integrations.OAuthSecret{
		TokenEnvelope: integrations.TokenEnvelope{
			AccessToken:  "gloas-test",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

// ---------------------------------------------------------------------------
// Constructor
// ---------------------------------------------------------------------------

func TestNewConnector_Defaults(t *testing.T) {
	c := NewConnector(Settings{}, nil)
	if c.settings.BaseURL != defaultGitLabURL {
		t.Errorf("BaseURL = %q, want %q", c.settings.BaseURL, defaultGitLabURL)
	}
}

func TestInstanceURL_PrefersSecret(t *testing.T) {
	c := NewConnector(Settings{BaseURL: "https://gitlab.com/"}, nil)
	s := oauthSecret()
	if got := c.instanceURL(s); got != "https://gitlab.com" {
		t.Errorf("instanceURL() = %q", got)
	}
	s.InstanceURL = "https://git.corp.example.com/"
	if got := c.instanceURL(s); got != "https://git.corp.example.com" {
		t.Errorf("instanceURL() = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Probe
// ---------------------------------------------------------------------------

func TestProbe_Success(t *testing.T) {
	_, c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/user" {
			t.Errorf("path = %q, want /api/v4/user", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gloas-test" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"username":"ops"}`))
	})

	if err := c.Probe(context.Background(), oauthSecret()); err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
}

func TestProbe_InsufficientScope(t *testing.T) {
	_, c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient_scope","error_description":"The request requires higher privileges than provided by the access token."}`))
	})

	err := c.Probe(context.Background(), oauthSecret())
	var apiErr *integrations.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Probe() error = %T %v, want *APIError", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
	}
	if apiErr.Body == "" {
		t.Error("Body is empty")
	}
}

// ---------------------------------------------------------------------------
// RenewToken
// ---------------------------------------------------------------------------

func TestRenewToken(t *testing.T) {
	_, c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("path = %q, want /oauth/token", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("client_id") != "test-client" {
			t.Errorf("client_id = %q", r.PostForm.Get("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new","refresh_token":"refresh-2","expires_in":7200,"token_type":"Bearer"}`))
	})

	res, err := c.RenewToken(context.Background(), oauthSecret(), "refresh-1")
	if err != nil {
		t.Fatalf("RenewToken() error: %v", err)
	}
	if res.AccessToken != "new" || res.RefreshToken != "refresh-2" {
		t.Errorf("RenewToken() = %+v", res)
	}
}

func TestRenewToken_InvalidGrant(t *testing.T) {
	_, c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := c.RenewToken(context.Background(), oauthSecret(), "refresh-1")
	var apiErr *integrations.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("RenewToken() error = %v, want 400 *APIError", err)
	}
}

// hostRewriter sends every request to target while the client believes it is
// talking to the configured instance host.
type hostRewriter struct {
	target *url.URL
	base   http.RoundTripper
}

func (h hostRewriter) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = h.target.Scheme
	r.URL.Host = h.target.Host
	return h.base.RoundTrip(r)
}

func TestProbe_UnauthorizedOnSelfManagedHostIsCredentialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"401 Unauthorized"}`))
	}))
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: hostRewriter{target: target, base: http.DefaultTransport}}
	classifier := connection.NewClassifier()

	for _, host := range []string{"http://gitlab.example.com", "http://ssl-git.example.com", "http://gitlab.dnsmadeeasy.example"} {
		t.Run(host, func(t *testing.T) {
			c := NewConnector(Settings{BaseURL: host}, client)
			err := c.Probe(context.Background(), oauthSecret())
			if err == nil {
				t.Fatal("Probe() succeeded against a 401")
			}
			if !classifier.Classify(integrations.ProviderGitLab, err) {
				t.Errorf("Classify(%v) = false, want true", err)
			}
		})
	}
}
