package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/connector-hub/connector-hub/internal/connection"
	"github.com/connector-hub/connector-hub/internal/credentials"
	"github.com/connector-hub/connector-hub/internal/db/models"
	"github.com/connector-hub/connector-hub/internal/db/repositories"
	"github.com/connector-hub/connector-hub/internal/integrations"
	"github.com/connector-hub/connector-hub/internal/tokens"
)

// ProviderCatalog looks up provider registrations.
type ProviderCatalog interface {
	Lookup(t integrations.ProviderType) (integrations.Registration, bool)
}

// CredentialStore is the persistence the credential handlers need.
type CredentialStore interface {
	Create(ctx context.Context, inst *models.CredentialInstance) error
	GetInstance(ctx context.Context, id string) (*models.CredentialInstance, error)
	ListInstances(ctx context.Context, orgID, workflowUserID string) ([]*models.CredentialInstance, error)
	Update(ctx context.Context, inst *models.CredentialInstance) error
	Delete(ctx context.Context, id string) error
}

// SecretSealer validates plaintext secrets and seals them for storage.
type SecretSealer interface {
	Decode(providerType string, plaintext []byte) (integrations.Secret, error)
	Seal(providerType string, secret integrations.Secret) (string, error)
}

// TokenRefresher makes sure an OAuth instance holds a usable access token.
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, inst *models.CredentialInstance) (*integrations.OAuthSecret, error)
}

// RefreshFailureHandler applies the connection policy to a failed refresh.
type RefreshFailureHandler interface {
	HandleRefreshError(ctx context.Context, inst *models.CredentialInstance, err error) (connection.Outcome, error)
}

// ConnectionVerifier probes an instance against its provider.
type ConnectionVerifier interface {
	Verify(ctx context.Context, inst *models.CredentialInstance) (connection.Result, error)
}

// CredentialHandlers handles credential instance administration endpoints
type CredentialHandlers struct {
	providers ProviderCatalog
	store     CredentialStore
	secrets   SecretSealer
	tokens    TokenRefresher
	monitor   RefreshFailureHandler
	verifier  ConnectionVerifier
}

// NewCredentialHandlers creates a new CredentialHandlers instance
func NewCredentialHandlers(providers ProviderCatalog, store CredentialStore, secrets SecretSealer, tokens TokenRefresher, monitor RefreshFailureHandler, verifier ConnectionVerifier) *CredentialHandlers {
	return &CredentialHandlers{
		providers: providers,
		store:     store,
		secrets:   secrets,
		tokens:    tokens,
		monitor:   monitor,
		verifier:  verifier,
	}
}

// CreateCredentialRequest represents the request to create a credential instance
type CreateCredentialRequest struct {
	ProviderType  string          `json:"provider_type" binding:"required"`
	DisplayName   string          `json:"display_name" binding:"required,max=255"`
	OwnerUserID   *string         `json:"owner_user_id"` // omit for an organisation-wide instance
	Secret        json.RawMessage `json:"secret"`
	Active        *bool           `json:"active"`
	DisabledTools []string        `json:"disabled_tools"`
}

// UpdateCredentialRequest represents a partial update of a credential instance
type UpdateCredentialRequest struct {
	DisplayName   *string   `json:"display_name" binding:"omitempty,min=1,max=255"`
	Active        *bool     `json:"active"`
	DisabledTools *[]string `json:"disabled_tools"`
}

// RefreshCredentialResponse is returned after a successful token refresh check
type RefreshCredentialResponse struct {
	ID        string `json:"id"`
	ExpiresAt string `json:"expires_at"`
	Scope     string `json:"scope,omitempty"`
}

// ListCredentialsHandler lists the credential instances visible to a caller.
// Secrets are never included.
// GET /api/v1/organizations/:orgId/credentials?workflow_user_id=...
func (h *CredentialHandlers) ListCredentialsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("orgId")
		instances, err := h.store.ListInstances(c.Request.Context(), orgID, c.Query("workflow_user_id"))
		if err != nil {
			slog.Error("failed to list credential instances", "organization_id", orgID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list credential instances",
			})
			return
		}
		if instances == nil {
			instances = []*models.CredentialInstance{}
		}

		c.JSON(http.StatusOK, gin.H{
			"credentials": instances,
			"count":       len(instances),
		})
	}
}

// CreateCredentialHandler validates the secret against the provider's variant,
// seals it and stores a new instance.
// POST /api/v1/organizations/:orgId/credentials
func (h *CredentialHandlers) CreateCredentialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCredentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		providerType := integrations.Normalize(req.ProviderType)
		reg, ok := h.providers.Lookup(providerType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unsupported provider type: " + req.ProviderType,
			})
			return
		}
		if unknown := undeclaredTools(reg, req.DisabledTools); len(unknown) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unknown tools for provider: " + strings.Join(unknown, ", "),
			})
			return
		}

		inst := &models.CredentialInstance{
			OrganizationID: c.Param("orgId"),
			OwnerUserID:    normalizeOwner(req.OwnerUserID),
			ProviderType:   providerType.String(),
			DisplayName:    strings.TrimSpace(req.DisplayName),
			Active:         req.Active == nil || *req.Active,
			DisabledTools:  pq.StringArray(req.DisabledTools),
		}

		hasSecret := len(req.Secret) > 0 && string(req.Secret) != "null"
		switch {
		case reg.RequiresCredentials && !hasSecret:
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "A secret is required for provider " + providerType.String(),
			})
			return
		case !reg.RequiresCredentials && hasSecret:
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Provider " + providerType.String() + " does not take a secret",
			})
			return
		case hasSecret:
			opaque, err := h.sealSecret(inst.ProviderType, req.Secret)
			if err != nil {
				if errors.Is(err, integrations.ErrInvalidSecret) || errors.Is(err, integrations.ErrSecretKindMismatch) {
					c.JSON(http.StatusBadRequest, gin.H{
						"error": err.Error(),
					})
					return
				}
				slog.Error("failed to seal secret", "provider", inst.ProviderType, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to store secret",
				})
				return
			}
			inst.EncryptedSecret = opaque
		}

		if err := h.store.Create(c.Request.Context(), inst); err != nil {
			if errors.Is(err, repositories.ErrDuplicateDisplayName) {
				c.JSON(http.StatusConflict, gin.H{
					"error": err.Error(),
				})
				return
			}
			slog.Error("failed to create credential instance", "organization_id", inst.OrganizationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create credential instance",
			})
			return
		}

		slog.Info("credential instance created",
			"instance_id", inst.ID,
			"organization_id", inst.OrganizationID,
			"provider", inst.ProviderType,
		)
		c.JSON(http.StatusCreated, inst)
	}
}

// UpdateCredentialHandler patches the display name, active flag or disabled tools.
// PATCH /api/v1/organizations/:orgId/credentials/:id
func (h *CredentialHandlers) UpdateCredentialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateCredentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		inst, ok := h.loadInstance(c)
		if !ok {
			return
		}

		if req.DisabledTools != nil {
			reg, _ := h.providers.Lookup(integrations.ProviderType(inst.ProviderType))
			if unknown := undeclaredTools(reg, *req.DisabledTools); len(unknown) > 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Unknown tools for provider: " + strings.Join(unknown, ", "),
				})
				return
			}
			inst.DisabledTools = pq.StringArray(*req.DisabledTools)
		}
		if req.DisplayName != nil {
			inst.DisplayName = strings.TrimSpace(*req.DisplayName)
		}
		if req.Active != nil {
			inst.Active = *req.Active
		}

		if err := h.store.Update(c.Request.Context(), inst); err != nil {
			switch {
			case errors.Is(err, repositories.ErrDuplicateDisplayName):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, repositories.ErrInstanceNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Credential instance not found"})
			default:
				slog.Error("failed to update credential instance", "instance_id", inst.ID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update credential instance"})
			}
			return
		}

		c.JSON(http.StatusOK, inst)
	}
}

// DeleteCredentialHandler removes a credential instance.
// DELETE /api/v1/organizations/:orgId/credentials/:id
func (h *CredentialHandlers) DeleteCredentialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := h.loadInstance(c)
		if !ok {
			return
		}

		if err := h.store.Delete(c.Request.Context(), inst.ID); err != nil {
			if errors.Is(err, repositories.ErrInstanceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Credential instance not found"})
				return
			}
			slog.Error("failed to delete credential instance", "instance_id", inst.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete credential instance"})
			return
		}

		slog.Info("credential instance deleted", "instance_id", inst.ID, "organization_id", inst.OrganizationID)
		c.Status(http.StatusNoContent)
	}
}

// VerifyCredentialHandler probes the provider with the stored credential and
// applies the connection policy to the outcome.
// POST /api/v1/organizations/:orgId/credentials/:id/verify
func (h *CredentialHandlers) VerifyCredentialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := h.loadInstance(c)
		if !ok {
			return
		}

		result, err := h.verifier.Verify(c.Request.Context(), inst)
		if err != nil {
			switch {
			case errors.Is(err, integrations.ErrProviderNotSupported), errors.Is(err, integrations.ErrProbeNotSupported):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, credentials.ErrNoSecret):
				c.JSON(http.StatusConflict, gin.H{"error": "Credential instance has no stored secret"})
			default:
				slog.Error("failed to verify credential instance", "instance_id", inst.ID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify credential instance"})
			}
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// RefreshCredentialHandler makes sure an OAuth instance holds a usable token,
// refreshing it when it is within the refresh buffer of expiry.
// POST /api/v1/organizations/:orgId/credentials/:id/refresh
func (h *CredentialHandlers) RefreshCredentialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := h.loadInstance(c)
		if !ok {
			return
		}

		reg, ok := h.providers.Lookup(integrations.ProviderType(inst.ProviderType))
		if !ok || reg.SecretKind != integrations.SecretOAuth {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Provider " + inst.ProviderType + " does not use OAuth tokens",
			})
			return
		}

		secret, err := h.tokens.EnsureFresh(c.Request.Context(), inst)
		if err != nil {
			h.refreshFailed(c, inst, err)
			return
		}

		c.JSON(http.StatusOK, RefreshCredentialResponse{
			ID:        inst.ID,
			ExpiresAt: secret.ExpiresAt.UTC().Format(time.RFC3339),
			Scope:     secret.Scope,
		})
	}
}

func (h *CredentialHandlers) refreshFailed(c *gin.Context, inst *models.CredentialInstance, err error) {
	var refreshErr *tokens.RefreshError
	if !errors.As(err, &refreshErr) {
		switch {
		case errors.Is(err, tokens.ErrInstanceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Credential instance not found"})
		case errors.Is(err, integrations.ErrRenewNotSupported):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, credentials.ErrNoSecret):
			c.JSON(http.StatusConflict, gin.H{"error": "Credential instance has no stored secret"})
		default:
			slog.Error("failed to refresh credential instance", "instance_id", inst.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh credential instance"})
		}
		return
	}

	outcome, monErr := h.monitor.HandleRefreshError(c.Request.Context(), inst, err)
	if monErr != nil {
		slog.Error("failed to record refresh failure", "instance_id", inst.ID, "error", monErr)
	}

	body := gin.H{
		"error":        refreshErr.Error(),
		"kind":         refreshErr.Kind.String(),
		"disconnected": outcome.Disconnected,
	}
	switch refreshErr.Kind {
	case tokens.KindNoRefreshToken:
		c.JSON(http.StatusConflict, body)
	case tokens.KindProviderRejected:
		c.JSON(http.StatusUnauthorized, body)
	default:
		c.JSON(http.StatusServiceUnavailable, body)
	}
}

// loadInstance fetches the :id instance and checks it belongs to :orgId. It
// writes the error response itself and reports false when the caller should stop.
func (h *CredentialHandlers) loadInstance(c *gin.Context) (*models.CredentialInstance, bool) {
	inst, err := h.store.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		slog.Error("failed to load credential instance", "instance_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load credential instance"})
		return nil, false
	}
	if inst == nil || inst.OrganizationID != c.Param("orgId") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Credential instance not found"})
		return nil, false
	}
	return inst, true
}

func (h *CredentialHandlers) sealSecret(providerType string, raw json.RawMessage) (string, error) {
	secret, err := h.secrets.Decode(providerType, raw)
	if err != nil {
		return "", err
	}
	return h.secrets.Seal(providerType, secret)
}

func undeclaredTools(reg integrations.Registration, names []string) []string {
	var unknown []string
	for _, name := range names {
		if !reg.DeclaresTool(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func normalizeOwner(owner *string) *string {
	if owner == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*owner)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
