package tokens

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/connector-hub/connector-hub/internal/credentials"
	"github.com/connector-hub/connector-hub/internal/crypto"
	"github.com/connector-hub/connector-hub/internal/db/models"
	"github.com/connector-hub/connector-hub/internal/integrations"
)

// ---------------------------------------------------------------------------
// Test fixtures
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu        sync.Mutex
	instances map[string]models.CredentialInstance
	persisted int
	persistCh chan struct{}
}

func newMemStore() *memStore {
	return &memStore{instances: map[string]models.CredentialInstance{}, persistCh: make(chan struct{}, 16)}
}

func (s *memStore) GetInstance(_ context.Context, id string) (*models.CredentialInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (s *memStore) PersistSecret(_ context.Context, id, opaque string) error {
	s.mu.Lock()
	inst := s.instances[id]
	inst.EncryptedSecret = opaque
	s.instances[id] = inst
	s.persisted++
	s.mu.Unlock()
	s.persistCh <- struct{}{}
	return nil
}

type fakeRenewer struct {
	fn func(ctx context.Context, secret *integrations.OAuthSecret, refreshToken string) (*integrations.RefreshResult, error)
}

func (r fakeRenewer) RenewToken(ctx context.Context, secret *integrations.OAuthSecret, refreshToken string) (*integrations.RefreshResult, error) {
	return r.fn(ctx, secret, refreshToken)
}

type fixture struct {
	store   *memStore
	codec   *credentials.Codec
	reg     *integrations.Registry
	manager *Manager
}

func newFixture(t *testing.T, renewer integrations.TokenRenewer) *fixture {
	t.Helper()
	vault, err := crypto.NewVault(bytes.Repeat([]byte{7}, crypto.KeySize))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	reg := integrations.NewRegistry()
	if err := reg.Register(integrations.Registration{
		Type:                integrations.ProviderGitLab,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretOAuth,
		Renewer:             renewer,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(integrations.Registration{
		Type:                integrations.ProviderJira,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretAPIToken,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	codec := credentials.NewCodec(vault, reg)
	store := newMemStore()
	return &fixture{
		store: store,
		codec: codec,
		reg:   reg,
		manager: NewManager(store, codec, reg, Options{
			Now: func() time.Time { return testNow },
		}),
	}
}

func (f *fixture) addInstance(t *testing.T, secret *integrations.OAuthSecret) *models.CredentialInstance {
	t.Helper()
	sealed, err := f.codec.Seal("gitlab", secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	inst := models.CredentialInstance{ID: "inst-1", OrganizationID: "org-1", ProviderType: "gitlab", EncryptedSecret: sealed, Active: true}
	f.store.instances[inst.ID] = inst
	return &inst
}

func (f *fixture) stored(t *testing.T, id string) *integrations.OAuthSecret {
	t.Helper()
	inst, _ := f.store.GetInstance(context.Background(), id)
	secret, err := f.codec.OpenOAuth(inst)
	if err != nil {
		t.Fatalf("OpenOAuth: %v", err)
	}
	return secret
}

func oauthSecret(expiresIn time.Duration, refreshToken string) *integrations.OAuthSecret {
	return &integrations.OAuthSecret{TokenEnvelope: integrations.TokenEnvelope{
		AccessToken:  "old-access",
		RefreshToken: refreshToken,
		ExpiresAt:    testNow.Add(expiresIn),
		Scope:        "read_user",
	}}
}

func countingRefresh(calls *int32, res *integrations.RefreshResult, err error) integrations.RefreshFunc {
	return func(context.Context, string) (*integrations.RefreshResult, error) {
		atomic.AddInt32(calls, 1)
		return res, err
	}
}

// ---------------------------------------------------------------------------
// Freshness
// ---------------------------------------------------------------------------

func TestAssess(t *testing.T) {
	m := NewManager(nil, nil, nil, Options{Now: func() time.Time { return testNow }})
	tests := []struct {
		name      string
		expiresIn time.Duration
		want      State
	}{
		{"well ahead", time.Hour, StateFresh},
		{"just outside buffer", 301 * time.Second, StateFresh},
		{"exactly at buffer", 300 * time.Second, StateExpiring},
		{"inside buffer", 100 * time.Second, StateExpiring},
		{"already expired", -time.Minute, StateExpiring},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Assess(integrations.TokenEnvelope{ExpiresAt: testNow.Add(tt.expiresIn)})
			if got != tt.want {
				t.Errorf("Assess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureValid_FreshTokenSkipsRefresh(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.addInstance(t, oauthSecret(301*time.Second, "rt"))
	var calls int32

	env, err := f.manager.EnsureValid(context.Background(), inst, countingRefresh(&calls, nil, errors.New("unexpected")))
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("refresh calls = %d, want 0", calls)
	}
	if env.AccessToken != "old-access" {
		t.Errorf("AccessToken = %q, want old-access", env.AccessToken)
	}
	if f.store.persisted != 0 {
		t.Errorf("persisted = %d, want 0", f.store.persisted)
	}
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestEnsureValid_RefreshesExpiringToken(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.addInstance(t, oauthSecret(100*time.Second, "rt-1"))
	var calls int32
	res := &integrations.RefreshResult{AccessToken: "new-access", RefreshToken: "rt-2", ExpiresIn: time.Hour}

	env, err := f.manager.EnsureValid(context.Background(), inst, countingRefresh(&calls, res, nil))
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}
	if env.AccessToken != "new-access" || env.RefreshToken != "rt-2" {
		t.Errorf("EnsureValid() = %+v, want rotated tokens", env)
	}
	if want := testNow.Add(time.Hour); !env.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", env.ExpiresAt, want)
	}

	stored := f.stored(t, inst.ID)
	if stored.AccessToken != "new-access" || stored.RefreshToken != "rt-2" {
		t.Errorf("stored secret = %+v, want rotated tokens", stored.TokenEnvelope)
	}
	if stored.Scope != "read_user" {
		t.Errorf("stored Scope = %q, want previous scope kept", stored.Scope)
	}
}

func TestEnsureValid_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.addInstance(t, oauthSecret(time.Minute, "rt-keep"))
	var calls int32
	res := &integrations.RefreshResult{AccessToken: "new-access", ExpiresIn: time.Hour, Scope: "api"}

	if _, err := f.manager.EnsureValid(context.Background(), inst, countingRefresh(&calls, res, nil)); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	stored := f.stored(t, inst.ID)
	if stored.RefreshToken != "rt-keep" {
		t.Errorf("RefreshToken = %q, want rt-keep", stored.RefreshToken)
	}
	if stored.Scope != "api" {
		t.Errorf("Scope = %q, want api", stored.Scope)
	}
}

func TestEnsureValid_ConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.addInstance(t, oauthSecret(10*time.Second, "rt"))

	var calls int32
	release := make(chan struct{})
	refresh := func(context.Context, string) (*integrations.RefreshResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &integrations.RefreshResult{AccessToken: "new-access", ExpiresIn: time.Hour}, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := f.manager.EnsureValid(context.Background(), inst, refresh)
			if err == nil && env.AccessToken != "new-access" {
				err = errors.New("caller got stale token " + env.AccessToken)
			}
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureValid() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestEnsureValid_CancelledCallerStillPersists(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.addInstance(t, oauthSecret(10*time.Second, "rt"))

	started := make(chan struct{})
	release := make(chan struct{})
	refresh := func(ctx context.Context, _ string) (*integrations.RefreshResult, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &integrations.RefreshResult{AccessToken: "new-access", ExpiresIn: time.Hour}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.EnsureValid(ctx, inst, refresh)
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("EnsureValid() error = %v, want %v", err, context.Canceled)
	}
	close(release)

	select {
	case <-f.store.persistCh:
	case <-time.After(2 * time.Second):
		t.Fatal("refreshed token was not persisted after caller cancelled")
	}
	if got := f.stored(t, inst.ID).AccessToken; got != "new-access" {
		t.Errorf("stored AccessToken = %q, want new-access", got)
	}
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestEnsureValid_Failures(t *testing.T) {
	tests := []struct {
		name         string
		refreshToken string
		refreshErr   error
		result       *integrations.RefreshResult
		wantKind     ErrorKind
		wantSentinel error
		wantCalls    int32
	}{
		{
			name:         "no refresh token",
			refreshToken: "",
			wantKind:     KindNoRefreshToken,
			wantSentinel: ErrNoRefreshToken,
			wantCalls:    0,
		},
		{
			name:         "invalid grant",
			refreshToken: "rt",
			refreshErr:   integrations.NewAPIError(400, "token refresh failed", `{"error":"invalid_grant"}`),
			wantKind:     KindProviderRejected,
			wantSentinel: ErrProviderRejected,
			wantCalls:    1,
		},
		{
			name:         "server error",
			refreshToken: "rt",
			refreshErr:   integrations.NewAPIError(503, "token refresh failed", "unavailable"),
			wantKind:     KindNetwork,
			wantSentinel: ErrNetwork,
			wantCalls:    1,
		},
		{
			name:         "rate limited",
			refreshToken: "rt",
			refreshErr:   integrations.NewAPIError(429, "token refresh failed", ""),
			wantKind:     KindNetwork,
			wantSentinel: ErrNetwork,
			wantCalls:    1,
		},
		{
			name:         "transport",
			refreshToken: "rt",
			refreshErr:   integrations.NewTransportError("token refresh failed", errors.New("connection refused")),
			wantKind:     KindNetwork,
			wantSentinel: ErrNetwork,
			wantCalls:    1,
		},
		{
			name:         "deadline",
			refreshToken: "rt",
			refreshErr:   context.DeadlineExceeded,
			wantKind:     KindNetwork,
			wantSentinel: ErrNetwork,
			wantCalls:    1,
		},
		{
			name:         "empty access token",
			refreshToken: "rt",
			result:       &integrations.RefreshResult{ExpiresIn: time.Hour},
			wantKind:     KindProviderRejected,
			wantSentinel: ErrProviderRejected,
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			inst := f.addInstance(t, oauthSecret(time.Minute, tt.refreshToken))
			var calls int32

			_, err := f.manager.EnsureValid(context.Background(), inst, countingRefresh(&calls, tt.result, tt.refreshErr))

			var refreshErr *RefreshError
			if !errors.As(err, &refreshErr) {
				t.Fatalf("EnsureValid() error = %v, want *RefreshError", err)
			}
			if refreshErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", refreshErr.Kind, tt.wantKind)
			}
			if !errors.Is(err, tt.wantSentinel) {
				t.Errorf("errors.Is(err, %v) = false", tt.wantSentinel)
			}
			if tt.refreshErr != nil && !errors.Is(err, tt.refreshErr) {
				t.Errorf("error does not wrap provider error %v", tt.refreshErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("refresh calls = %d, want %d", calls, tt.wantCalls)
			}
			if f.store.persisted != 0 {
				t.Errorf("persisted = %d, want 0", f.store.persisted)
			}
		})
	}
}

func TestEnsureValid_InstanceDeleted(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.addInstance(t, oauthSecret(time.Minute, "rt"))
	delete(f.store.instances, inst.ID)
	var calls int32

	_, err := f.manager.EnsureValid(context.Background(), inst, countingRefresh(&calls, nil, nil))
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("EnsureValid() error = %v, want %v", err, ErrInstanceNotFound)
	}
}

// ---------------------------------------------------------------------------
// EnsureFresh
// ---------------------------------------------------------------------------

func TestEnsureFresh_UsesRegisteredRenewer(t *testing.T) {
	var gotToken string
	var gotInstanceURL string
	renewer := fakeRenewer{fn: func(_ context.Context, secret *integrations.OAuthSecret, refreshToken string) (*integrations.RefreshResult, error) {
		gotToken = refreshToken
		gotInstanceURL = secret.InstanceURL
		return &integrations.RefreshResult{AccessToken: "renewed", ExpiresIn: time.Hour}, nil
	}}
	f := newFixture(t, renewer)
	secret := oauthSecret(time.Minute, "rt-9")
	secret.InstanceURL = "https://gitlab.example.com"
	inst := f.addInstance(t, secret)

	got, err := f.manager.EnsureFresh(context.Background(), inst)
	if err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if got.AccessToken != "renewed" {
		t.Errorf("AccessToken = %q, want renewed", got.AccessToken)
	}
	if got.InstanceURL != "https://gitlab.example.com" {
		t.Errorf("InstanceURL = %q, want preserved", got.InstanceURL)
	}
	if gotToken != "rt-9" || gotInstanceURL != "https://gitlab.example.com" {
		t.Errorf("renewer called with (%q, %q)", gotToken, gotInstanceURL)
	}
}

func TestEnsureFresh_NoRenewer(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.addInstance(t, oauthSecret(time.Minute, "rt"))

	if _, err := f.manager.EnsureFresh(context.Background(), inst); !errors.Is(err, integrations.ErrRenewNotSupported) {
		t.Errorf("EnsureFresh() error = %v, want %v", err, integrations.ErrRenewNotSupported)
	}

	inst.ProviderType = "unknown"
	if _, err := f.manager.EnsureFresh(context.Background(), inst); !errors.Is(err, integrations.ErrProviderNotSupported) {
		t.Errorf("EnsureFresh(unknown) error = %v, want %v", err, integrations.ErrProviderNotSupported)
	}
}

func TestEnsureValid_WrongVariant(t *testing.T) {
	f := newFixture(t, nil)
	sealed, err := f.codec.Seal("jira", &integrations.APITokenSecret{BaseURL: "https://acme.atlassian.net", Username: "u", APIToken: "t"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	inst := &models.CredentialInstance{ID: "j1", ProviderType: "jira", EncryptedSecret: sealed}
	var calls int32

	if _, err := f.manager.EnsureValid(context.Background(), inst, countingRefresh(&calls, nil, nil)); !errors.Is(err, integrations.ErrSecretKindMismatch) {
		t.Errorf("EnsureValid() error = %v, want %v", err, integrations.ErrSecretKindMismatch)
	}
}
