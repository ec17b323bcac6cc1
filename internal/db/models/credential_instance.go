// Package models defines the database model types for Connector Hub.
// Each type corresponds to a database table and uses struct tags for both JSON serialization and sqlx row scanning.
package models

import (
	"time"
	"unicode/utf8"

	"github.com/lib/pq"
)

// ConnectionState is the health of a credential instance as last observed.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "CONNECTED"
	ConnectionDisconnected ConnectionState = "DISCONNECTED"
)

// Valid reports whether the state is one of the known values.
func (s ConnectionState) Valid() bool {
	return s == ConnectionConnected || s == ConnectionDisconnected
}

// MaxDisconnectReason is the longest disconnect reason that is stored verbatim.
const MaxDisconnectReason = 500

// CredentialInstance is one configured connection to a third-party provider.
type CredentialInstance struct {
	ID                   string          `db:"id" json:"id"`
	OrganizationID       string          `db:"organization_id" json:"organization_id"`
	OwnerUserID          *string         `db:"owner_user_id" json:"owner_user_id,omitempty"` // nil for organisation-wide instances
	ProviderType         string          `db:"provider_type" json:"provider_type"`
	DisplayName          string          `db:"display_name" json:"display_name"`
	EncryptedSecret      string          `db:"encrypted_secret" json:"-"`
	Active               bool            `db:"active" json:"active"`
	DisabledTools        pq.StringArray  `db:"disabled_tools" json:"disabled_tools"`
	ConnectionState      ConnectionState `db:"connection_state" json:"connection_state"`
	LastDisconnectReason *string         `db:"last_disconnect_reason" json:"last_disconnect_reason,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// HasSecret reports whether a sealed secret is stored.
func (c *CredentialInstance) HasSecret() bool {
	return c.EncryptedSecret != ""
}

// IsToolDisabled reports whether name is in the instance's disabled set.
func (c *CredentialInstance) IsToolDisabled(name string) bool {
	for _, t := range c.DisabledTools {
		if t == name {
			return true
		}
	}
	return false
}

// TruncateReason caps a disconnect reason at MaxDisconnectReason characters,
// replacing the tail with "..." when it is longer.
func TruncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= MaxDisconnectReason {
		return reason
	}
	runes := []rune(reason)
	return string(runes[:MaxDisconnectReason-3]) + "..."
}
