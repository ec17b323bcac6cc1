// credential_repository.go implements CredentialRepository, the system of record for
// credential instances: scoped listing, secret persistence and connection state.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/connector-hub/connector-hub/internal/db/models"
)

var (
	// ErrInstanceNotFound is returned by mutations that matched no row.
	ErrInstanceNotFound = errors.New("credential instance not found")
	// ErrDuplicateDisplayName is returned when the display name is already taken in the owner scope.
	ErrDuplicateDisplayName = errors.New("a credential instance with this display name already exists")
)

const uniqueViolation = "23505"

const credentialColumns = `id, organization_id, owner_user_id, provider_type, display_name,
	encrypted_secret, active, disabled_tools, connection_state, last_disconnect_reason,
	created_at, updated_at`

// Decrypter opens sealed secrets.
type Decrypter interface {
	Decrypt(opaque string) ([]byte, error)
}

// CredentialRepository handles database operations for credential instances
type CredentialRepository struct {
	db    *sqlx.DB
	vault Decrypter
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sqlx.DB, vault Decrypter) *CredentialRepository {
	return &CredentialRepository{db: db, vault: vault}
}

// Create inserts a new instance. ID and timestamps are filled in when empty.
func (r *CredentialRepository) Create(ctx context.Context, inst *models.CredentialInstance) error {
	now := time.Now().UTC()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.ConnectionState == "" {
		inst.ConnectionState = models.ConnectionConnected
	}
	if inst.DisabledTools == nil {
		inst.DisabledTools = pq.StringArray{}
	}
	inst.CreatedAt = now
	inst.UpdatedAt = now

	query := `
		INSERT INTO credential_instances (
			id, organization_id, owner_user_id, provider_type, display_name,
			encrypted_secret, active, disabled_tools, connection_state,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := r.db.ExecContext(ctx, query,
		inst.ID, inst.OrganizationID, inst.OwnerUserID, inst.ProviderType, inst.DisplayName,
		inst.EncryptedSecret, inst.Active, inst.DisabledTools, inst.ConnectionState,
		inst.CreatedAt, inst.UpdatedAt,
	)
	return translateError("create credential instance", err)
}

// GetInstance retrieves an instance by ID. It returns nil, nil when not found.
func (r *CredentialRepository) GetInstance(ctx context.Context, id string) (*models.CredentialInstance, error) {
	var inst models.CredentialInstance
	query := `SELECT ` + credentialColumns + ` FROM credential_instances WHERE id = $1`
	err := r.db.GetContext(ctx, &inst, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential instance: %w", err)
	}
	return &inst, nil
}

// ListInstances lists the instances visible to a caller in creation order.
// Organisation-wide instances are always visible; instances owned by a user
// are visible only when workflowUserID names that user.
func (r *CredentialRepository) ListInstances(ctx context.Context, orgID, workflowUserID string) ([]*models.CredentialInstance, error) {
	var (
		instances []*models.CredentialInstance
		err       error
	)
	if workflowUserID == "" {
		query := `SELECT ` + credentialColumns + ` FROM credential_instances
			WHERE organization_id = $1 AND owner_user_id IS NULL
			ORDER BY created_at, id`
		err = r.db.SelectContext(ctx, &instances, query, orgID)
	} else {
		query := `SELECT ` + credentialColumns + ` FROM credential_instances
			WHERE organization_id = $1 AND (owner_user_id IS NULL OR owner_user_id = $2)
			ORDER BY created_at, id`
		err = r.db.SelectContext(ctx, &instances, query, orgID, workflowUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list credential instances: %w", err)
	}
	return instances, nil
}

// ListVerifiable returns a page of active, connected instances with a stored
// secret, ordered by id and starting after afterID.
func (r *CredentialRepository) ListVerifiable(ctx context.Context, afterID string, limit int) ([]*models.CredentialInstance, error) {
	var instances []*models.CredentialInstance
	query := `SELECT ` + credentialColumns + ` FROM credential_instances
		WHERE active AND connection_state = $1 AND encrypted_secret <> '' AND id > $2
		ORDER BY id
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &instances, query, models.ConnectionConnected, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list verifiable credential instances: %w", err)
	}
	return instances, nil
}

// PersistSecret replaces the sealed secret in a single write.
func (r *CredentialRepository) PersistSecret(ctx context.Context, id, opaque string) error {
	query := `UPDATE credential_instances SET encrypted_secret = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, opaque, time.Now().UTC())
	return requireRow("persist secret", res, err)
}

// SetConnectionState records the connection health. The reason is truncated to
// models.MaxDisconnectReason characters and cleared when empty.
func (r *CredentialRepository) SetConnectionState(ctx context.Context, id string, state models.ConnectionState, reason string) error {
	if !state.Valid() {
		return fmt.Errorf("invalid connection state %q", state)
	}
	var stored *string
	if reason != "" {
		truncated := models.TruncateReason(reason)
		stored = &truncated
	}
	query := `UPDATE credential_instances
		SET connection_state = $2, last_disconnect_reason = $3, updated_at = $4
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, state, stored, time.Now().UTC())
	return requireRow("set connection state", res, err)
}

// Update saves the operator-editable fields: display name, active flag and disabled tools.
func (r *CredentialRepository) Update(ctx context.Context, inst *models.CredentialInstance) error {
	inst.UpdatedAt = time.Now().UTC()
	if inst.DisabledTools == nil {
		inst.DisabledTools = pq.StringArray{}
	}
	query := `UPDATE credential_instances
		SET display_name = $2, active = $3, disabled_tools = $4, updated_at = $5
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, inst.ID, inst.DisplayName, inst.Active, inst.DisabledTools, inst.UpdatedAt)
	return requireRow("update credential instance", res, err)
}

// Delete removes an instance.
func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credential_instances WHERE id = $1`, id)
	return requireRow("delete credential instance", res, err)
}

// GetDecryptedSecret loads and decrypts an instance's secret.
func (r *CredentialRepository) GetDecryptedSecret(ctx context.Context, id string) ([]byte, error) {
	var opaque string
	err := r.db.GetContext(ctx, &opaque, `SELECT encrypted_secret FROM credential_instances WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	plaintext, err := r.vault.Decrypt(opaque)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret for instance %s: %w", id, err)
	}
	return plaintext, nil
}

func requireRow(op string, res sql.Result, err error) error {
	if err != nil {
		return translateError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateDisplayName
	}
	return fmt.Errorf("%s: %w", op, err)
}
