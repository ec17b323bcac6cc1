// Package tokens keeps OAuth credential instances fresh. One Manager serves
// every provider: provider differences are confined to the refresh function.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/connector-hub/connector-hub/internal/db/models"
	"github.com/connector-hub/connector-hub/internal/integrations"
	"github.com/connector-hub/connector-hub/internal/telemetry"
)

const (
	DefaultRefreshBuffer  = 300 * time.Second
	DefaultRefreshTimeout = 30 * time.Second
	DefaultLockTTL        = 45 * time.Second
)

// State is the lifecycle position of a token envelope.
type State string

const (
	StateFresh      State = "FRESH"
	StateExpiring   State = "EXPIRING"
	StateRefreshing State = "REFRESHING"
	StateFailed     State = "FAILED"
)

// Store is the subset of the credential store the manager needs.
type Store interface {
	GetInstance(ctx context.Context, id string) (*models.CredentialInstance, error)
	PersistSecret(ctx context.Context, id, opaque string) error
}

// Codec opens and seals OAuth secrets.
type Codec interface {
	OpenOAuth(inst *models.CredentialInstance) (*integrations.OAuthSecret, error)
	Seal(providerType string, secret integrations.Secret) (string, error)
}

// Providers looks up provider registrations for their token renewers.
type Providers interface {
	Lookup(t integrations.ProviderType) (integrations.Registration, bool)
}

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	Buffer  time.Duration
	Timeout time.Duration
	// Locker serialises refreshes across processes. Nil means in-process only.
	Locker  Locker
	LockTTL time.Duration
	Now     func() time.Time
}

// Manager refreshes OAuth tokens shortly before they expire. Concurrent
// refreshes of the same instance are collapsed into one provider call.
type Manager struct {
	store     Store
	codec     Codec
	providers Providers
	buffer    time.Duration
	timeout   time.Duration
	locker    Locker
	lockTTL   time.Duration
	now       func() time.Time
	group     singleflight.Group
}

// NewManager creates a token lifecycle manager.
func NewManager(store Store, codec Codec, providers Providers, opts Options) *Manager {
	m := &Manager{
		store:     store,
		codec:     codec,
		providers: providers,
		buffer:    opts.Buffer,
		timeout:   opts.Timeout,
		locker:    opts.Locker,
		lockTTL:   opts.LockTTL,
		now:       opts.Now,
	}
	if m.buffer <= 0 {
		m.buffer = DefaultRefreshBuffer
	}
	if m.timeout <= 0 {
		m.timeout = DefaultRefreshTimeout
	}
	if m.lockTTL <= 0 {
		m.lockTTL = DefaultLockTTL
	}
	if m.locker == nil {
		m.locker = noopLocker{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Assess reports whether env is FRESH or EXPIRING at the current time.
func (m *Manager) Assess(env integrations.TokenEnvelope) State {
	if m.now().Before(env.ExpiresAt.Add(-m.buffer)) {
		return StateFresh
	}
	return StateExpiring
}

// EnsureValid returns a usable token envelope for inst, calling refresh first
// when the stored token is within the refresh buffer of expiry.
func (m *Manager) EnsureValid(ctx context.Context, inst *models.CredentialInstance, refresh integrations.RefreshFunc) (*integrations.TokenEnvelope, error) {
	secret, err := m.ensure(ctx, inst, func(*integrations.OAuthSecret) integrations.RefreshFunc { return refresh })
	if err != nil {
		return nil, err
	}
	env := secret.TokenEnvelope
	return &env, nil
}

// EnsureFresh is EnsureValid using the provider's registered token renewer.
// It returns the full secret so callers can reach provider-specific fields.
func (m *Manager) EnsureFresh(ctx context.Context, inst *models.CredentialInstance) (*integrations.OAuthSecret, error) {
	reg, ok := m.providers.Lookup(integrations.ProviderType(inst.ProviderType))
	if !ok {
		return nil, fmt.Errorf("%w: %s", integrations.ErrProviderNotSupported, inst.ProviderType)
	}
	if reg.Renewer == nil {
		return nil, fmt.Errorf("%w: %s", integrations.ErrRenewNotSupported, inst.ProviderType)
	}
	return m.ensure(ctx, inst, func(secret *integrations.OAuthSecret) integrations.RefreshFunc {
		return func(ctx context.Context, refreshToken string) (*integrations.RefreshResult, error) {
			return reg.Renewer.RenewToken(ctx, secret, refreshToken)
		}
	})
}

type refreshFactory func(secret *integrations.OAuthSecret) integrations.RefreshFunc

func (m *Manager) ensure(ctx context.Context, inst *models.CredentialInstance, factory refreshFactory) (*integrations.OAuthSecret, error) {
	secret, err := m.codec.OpenOAuth(inst)
	if err != nil {
		return nil, err
	}
	if m.Assess(secret.TokenEnvelope) == StateFresh {
		return secret, nil
	}

	// The flight outlives a cancelled caller so an in-flight refresh is
	// always persisted.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(inst.ID, func() (interface{}, error) {
		return m.refresh(flightCtx, inst, factory)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*integrations.OAuthSecret), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh runs the REFRESHING transition for one instance. It is only ever
// executing once per instance id within this process.
func (m *Manager) refresh(ctx context.Context, inst *models.CredentialInstance, factory refreshFactory) (*integrations.OAuthSecret, error) {
	logger := slog.With("instance_id", inst.ID, "provider", inst.ProviderType)

	release, err := m.locker.Acquire(ctx, lockKey(inst.ID), m.lockTTL)
	if err != nil {
		return nil, m.fail(inst, KindNetwork, fmt.Errorf("acquire refresh lock: %w", err))
	}
	defer release()

	// Another flight or another replica may already have refreshed.
	latest, err := m.store.GetInstance(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("reload credential instance: %w", err)
	}
	if latest == nil {
		return nil, ErrInstanceNotFound
	}
	secret, err := m.codec.OpenOAuth(latest)
	if err != nil {
		return nil, err
	}
	if m.Assess(secret.TokenEnvelope) == StateFresh {
		logger.Debug("token already refreshed by a concurrent caller")
		return secret, nil
	}

	if secret.RefreshToken == "" {
		return nil, m.fail(inst, KindNoRefreshToken, nil)
	}

	logger.Debug("token expiring, refreshing", "expires_at", secret.ExpiresAt, "state", StateRefreshing)
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := time.Now()
	res, err := factory(secret)(callCtx, secret.RefreshToken)
	telemetry.TokenRefreshDuration.WithLabelValues(inst.ProviderType).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, m.fail(inst, kindOf(err), err)
	}
	if res == nil || res.AccessToken == "" {
		return nil, m.fail(inst, KindProviderRejected, integrations.NewAPIError(0, "token endpoint returned no access token", ""))
	}

	updated := *secret
	updated.AccessToken = res.AccessToken
	if res.RefreshToken != "" {
		updated.RefreshToken = res.RefreshToken
	}
	if res.Scope != "" {
		updated.Scope = res.Scope
	}
	updated.ExpiresAt = m.now().Add(res.ExpiresIn).UTC()

	sealed, err := m.codec.Seal(latest.ProviderType, &updated)
	if err != nil {
		return nil, fmt.Errorf("seal refreshed token: %w", err)
	}
	if err := m.store.PersistSecret(ctx, inst.ID, sealed); err != nil {
		telemetry.TokenRefreshesTotal.WithLabelValues(inst.ProviderType, "persist_error").Inc()
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	telemetry.TokenRefreshesTotal.WithLabelValues(inst.ProviderType, "success").Inc()
	logger.Info("token refreshed", "expires_at", updated.ExpiresAt, "rotated", res.RefreshToken != "", "state", StateFresh)
	return &updated, nil
}

func (m *Manager) fail(inst *models.CredentialInstance, kind ErrorKind, err error) error {
	telemetry.TokenRefreshesTotal.WithLabelValues(inst.ProviderType, kind.String()).Inc()
	slog.Warn("token refresh failed",
		"instance_id", inst.ID,
		"provider", inst.ProviderType,
		"kind", kind.String(),
		"state", StateFailed,
		"error", err,
	)
	return &RefreshError{Kind: kind, InstanceID: inst.ID, Provider: inst.ProviderType, Err: err}
}

func lockKey(instanceID string) string {
	return "connector-hub:refresh:" + instanceID
}
