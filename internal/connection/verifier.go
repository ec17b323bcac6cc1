package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/connector-hub/connector-hub/internal/db/models"
	"github.com/connector-hub/connector-hub/internal/integrations"
	"github.com/connector-hub/connector-hub/internal/tokens"
)

// DefaultProbeTimeout bounds a single connection probe.
const DefaultProbeTimeout = 10 * time.Second

// Providers looks up provider registrations.
type Providers interface {
	Lookup(t integrations.ProviderType) (integrations.Registration, bool)
}

// SecretOpener decrypts an instance's secret.
type SecretOpener interface {
	Open(inst *models.CredentialInstance) (integrations.Secret, error)
}

// Refresher keeps OAuth secrets fresh before they are probed.
type Refresher interface {
	EnsureFresh(ctx context.Context, inst *models.CredentialInstance) (*integrations.OAuthSecret, error)
}

// Result is the outcome of a verification.
type Result struct {
	Healthy      bool   `json:"healthy"`
	Disconnected bool   `json:"disconnected"`
	Transient    bool   `json:"transient"`
	Reason       string `json:"reason,omitempty"`
}

// Verifier probes credential instances against their providers and feeds
// any failure through the monitor.
type Verifier struct {
	providers Providers
	secrets   SecretOpener
	refresher Refresher
	monitor   *Monitor
	timeout   time.Duration
}

func NewVerifier(providers Providers, secrets SecretOpener, refresher Refresher, monitor *Monitor) *Verifier {
	return &Verifier{
		providers: providers,
		secrets:   secrets,
		refresher: refresher,
		monitor:   monitor,
		timeout:   DefaultProbeTimeout,
	}
}

// WithProbeTimeout overrides the per-probe deadline. Non-positive values are ignored.
func (v *Verifier) WithProbeTimeout(d time.Duration) *Verifier {
	if d > 0 {
		v.timeout = d
	}
	return v
}

// Verify probes one instance. An error is returned only when verification
// could not run at all (unknown provider, undecryptable secret, store failure);
// provider-side failures are reported in the Result.
func (v *Verifier) Verify(ctx context.Context, inst *models.CredentialInstance) (Result, error) {
	reg, ok := v.providers.Lookup(integrations.ProviderType(inst.ProviderType))
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", integrations.ErrProviderNotSupported, inst.ProviderType)
	}
	if !reg.RequiresCredentials {
		return Result{Healthy: true}, nil
	}
	if reg.Prober == nil {
		return Result{}, fmt.Errorf("%w: %s", integrations.ErrProbeNotSupported, inst.ProviderType)
	}

	secret, res, err := v.loadSecret(ctx, inst, reg)
	if err != nil || secret == nil {
		return res, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	probeErr := reg.Prober.Probe(probeCtx, secret)
	if probeErr == nil {
		if err := v.monitor.MarkConnected(ctx, inst); err != nil {
			return Result{}, err
		}
		return Result{Healthy: true}, nil
	}
	if errors.Is(probeErr, context.Canceled) && ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	outcome, err := v.monitor.HandleFailure(ctx, inst, probeErr)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Disconnected: outcome.Disconnected,
		Transient:    !outcome.Disconnected,
		Reason:       models.TruncateReason(probeErr.Error()),
	}, nil
}

// loadSecret returns the secret to probe with. OAuth secrets are refreshed
// first; a refresh failure is resolved here and yields a nil secret.
func (v *Verifier) loadSecret(ctx context.Context, inst *models.CredentialInstance, reg integrations.Registration) (integrations.Secret, Result, error) {
	if reg.SecretKind != integrations.SecretOAuth || reg.Renewer == nil || v.refresher == nil {
		secret, err := v.secrets.Open(inst)
		return secret, Result{}, err
	}

	secret, err := v.refresher.EnsureFresh(ctx, inst)
	if err == nil {
		return secret, Result{}, nil
	}
	var refreshErr *tokens.RefreshError
	if !errors.As(err, &refreshErr) {
		return nil, Result{}, err
	}
	outcome, herr := v.monitor.HandleRefreshError(ctx, inst, err)
	if herr != nil {
		return nil, Result{}, herr
	}
	return nil, Result{
		Disconnected: outcome.Disconnected,
		Transient:    !outcome.Disconnected,
		Reason:       models.TruncateReason(err.Error()),
	}, nil
}
