package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/connector-hub/connector-hub/internal/db/models"
	"github.com/connector-hub/connector-hub/internal/integrations"
	"github.com/connector-hub/connector-hub/internal/telemetry"
	"github.com/connector-hub/connector-hub/internal/tokens"
)

// StateWriter is the single-field mutation the monitor may request from the
// credential store.
type StateWriter interface {
	SetConnectionState(ctx context.Context, id string, state models.ConnectionState, reason string) error
}

// Outcome reports what the monitor did with a failure.
type Outcome struct {
	Disconnected bool
	Reason       string
}

// Monitor applies classifier verdicts to the store. It is the only code path
// that flips an instance to DISCONNECTED.
type Monitor struct {
	classifier *Classifier
	states     StateWriter
}

func NewMonitor(classifier *Classifier, states StateWriter) *Monitor {
	return &Monitor{classifier: classifier, states: states}
}

// HandleFailure classifies a failed provider call and disconnects the
// instance when the credentials are dead. Transient failures leave the
// instance untouched.
func (m *Monitor) HandleFailure(ctx context.Context, inst *models.CredentialInstance, err error) (Outcome, error) {
	if err == nil {
		return Outcome{}, nil
	}
	if !m.classifier.Classify(integrations.ProviderType(inst.ProviderType), err) {
		slog.Debug("provider failure classified as transient",
			"instance_id", inst.ID, "provider", inst.ProviderType, "error", err)
		return Outcome{}, nil
	}
	return m.disconnect(ctx, inst, err.Error())
}

// HandleRefreshError applies the disconnect policy for a failed token refresh.
// A missing refresh token always disconnects; a provider rejection goes
// through the classifier; network failures never disconnect.
func (m *Monitor) HandleRefreshError(ctx context.Context, inst *models.CredentialInstance, err error) (Outcome, error) {
	var refreshErr *tokens.RefreshError
	if !errors.As(err, &refreshErr) {
		return Outcome{}, nil
	}
	switch refreshErr.Kind {
	case tokens.KindNoRefreshToken:
		return m.disconnect(ctx, inst, "reauthorization required: "+tokens.ErrNoRefreshToken.Error())
	case tokens.KindProviderRejected:
		cause := refreshErr.Err
		if cause == nil {
			cause = err
		}
		return m.HandleFailure(ctx, inst, cause)
	default:
		return Outcome{}, nil
	}
}

// MarkConnected clears a previous disconnect after a successful probe.
func (m *Monitor) MarkConnected(ctx context.Context, inst *models.CredentialInstance) error {
	if inst.ConnectionState == models.ConnectionConnected {
		return nil
	}
	if err := m.states.SetConnectionState(ctx, inst.ID, models.ConnectionConnected, ""); err != nil {
		return fmt.Errorf("mark instance %s connected: %w", inst.ID, err)
	}
	inst.ConnectionState = models.ConnectionConnected
	inst.LastDisconnectReason = nil
	slog.Info("credential instance reconnected", "instance_id", inst.ID, "provider", inst.ProviderType)
	return nil
}

func (m *Monitor) disconnect(ctx context.Context, inst *models.CredentialInstance, reason string) (Outcome, error) {
	reason = models.TruncateReason(reason)
	if err := m.states.SetConnectionState(ctx, inst.ID, models.ConnectionDisconnected, reason); err != nil {
		return Outcome{}, fmt.Errorf("disconnect instance %s: %w", inst.ID, err)
	}
	inst.ConnectionState = models.ConnectionDisconnected
	inst.LastDisconnectReason = &reason
	telemetry.DisconnectsTotal.WithLabelValues(inst.ProviderType).Inc()
	slog.Warn("credential instance disconnected",
		"instance_id", inst.ID,
		"organization_id", inst.OrganizationID,
		"provider", inst.ProviderType,
		"reason", reason,
	)
	return Outcome{Disconnected: true, Reason: reason}, nil
}
