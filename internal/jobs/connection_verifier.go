// Package jobs holds the background jobs started by cmd/server.
//
// connection_verifier.go implements the ConnectionVerifier job, which periodically
// probes every active, connected credential instance and disconnects those whose
// credentials the provider no longer accepts.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/connector-hub/connector-hub/internal/connection"
	"github.com/connector-hub/connector-hub/internal/db/models"
)

const (
	defaultVerifierInterval  = time.Hour
	defaultVerifierBatchSize = 100
)

// InstanceSource pages through instances eligible for verification.
type InstanceSource interface {
	ListVerifiable(ctx context.Context, afterID string, limit int) ([]*models.CredentialInstance, error)
}

// InstanceVerifier probes a single instance.
type InstanceVerifier interface {
	Verify(ctx context.Context, inst *models.CredentialInstance) (connection.Result, error)
}

// RunSummary counts the outcomes of one verification pass.
type RunSummary struct {
	Checked      int
	Healthy      int
	Disconnected int
	Transient    int
	Failed       int
}

// ConnectionVerifier periodically verifies stored credentials
type ConnectionVerifier struct {
	source    InstanceSource
	verifier  InstanceVerifier
	interval  time.Duration
	batchSize int
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewConnectionVerifier creates a new connection verification job
func NewConnectionVerifier(source InstanceSource, verifier InstanceVerifier, interval time.Duration, batchSize int) *ConnectionVerifier {
	if interval <= 0 {
		interval = defaultVerifierInterval
	}
	if batchSize <= 0 {
		batchSize = defaultVerifierBatchSize
	}

	return &ConnectionVerifier{
		source:    source,
		verifier:  verifier,
		interval:  interval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
	}
}

// Start runs a pass immediately and then once per interval until Stop is
// called or ctx is cancelled. It blocks.
func (v *ConnectionVerifier) Start(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	slog.Info("connection verifier started", "interval", v.interval, "batch_size", v.batchSize)

	v.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			v.RunOnce(ctx)
		case <-v.stopChan:
			slog.Info("connection verifier stopped")
			return
		case <-ctx.Done():
			slog.Info("connection verifier context cancelled")
			return
		}
	}
}

// Stop stops the job. It is safe to call more than once.
func (v *ConnectionVerifier) Stop() {
	v.stopOnce.Do(func() { close(v.stopChan) })
}

// RunOnce performs one full verification pass.
func (v *ConnectionVerifier) RunOnce(ctx context.Context) RunSummary {
	var summary RunSummary
	start := time.Now()
	afterID := ""

	for {
		batch, err := v.source.ListVerifiable(ctx, afterID, v.batchSize)
		if err != nil {
			slog.Error("connection verification: failed to list instances", "after_id", afterID, "error", err)
			break
		}

		for _, inst := range batch {
			if ctx.Err() != nil {
				return summary
			}
			v.verifyOne(ctx, inst, &summary)
		}

		if len(batch) < v.batchSize {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	slog.Info("connection verification run completed",
		"checked", summary.Checked,
		"healthy", summary.Healthy,
		"disconnected", summary.Disconnected,
		"transient", summary.Transient,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	return summary
}

func (v *ConnectionVerifier) verifyOne(ctx context.Context, inst *models.CredentialInstance, summary *RunSummary) {
	summary.Checked++
	result, err := v.verifier.Verify(ctx, inst)
	switch {
	case err != nil:
		summary.Failed++
		slog.Warn("connection verification: probe could not run",
			"instance_id", inst.ID,
			"provider", inst.ProviderType,
			"error", err,
		)
	case result.Healthy:
		summary.Healthy++
	case result.Disconnected:
		summary.Disconnected++
	default:
		summary.Transient++
		slog.Debug("connection verification: transient failure",
			"instance_id", inst.ID,
			"provider", inst.ProviderType,
			"reason", result.Reason,
		)
	}
}
